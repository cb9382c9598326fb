// Package sandbox builds bubblewrap (bwrap) command lines that confine a
// shell command to a workspace directory using OS-level namespaces. It is the
// enforcement layer behind the namespace isolation mode; availability is
// detected at backend construction time.
package sandbox

import (
	"errors"
	"os/exec"
	"path"
)

// WorkspaceMount is where the workspace root is bind-mounted inside the
// sandbox. Commands see their files here regardless of the host location.
const WorkspaceMount = "/tmp/agentbe-workspace"

// Available reports whether the bwrap binary is installed.
func Available() bool {
	_, err := exec.LookPath("bwrap")
	return err == nil
}

// Options holds the inputs for building a bwrap invocation.
type Options struct {
	// RootDir is the host workspace root, mounted read-write at WorkspaceMount.
	RootDir string

	// WorkDir is the working directory relative to the workspace root.
	// "." or empty runs at the workspace mount itself.
	WorkDir string

	// Shell is the interpreter used to run Command ("bash" or "sh").
	Shell string

	// Command is the shell command to run inside the sandbox.
	Command string

	// ShareNet keeps network access inside the sandbox. All other
	// namespaces are always unshared.
	ShareNet bool
}

// Builder assembles bubblewrap argument lists.
type Builder struct {
	args []string
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Build returns the full argv (starting with "bwrap") for running the command
// inside the sandbox, along with the in-sandbox working directory.
func (b *Builder) Build(opts *Options) ([]string, string, error) {
	if opts == nil || opts.RootDir == "" {
		return nil, "", errors.New("workspace root is required")
	}
	if opts.Command == "" {
		return nil, "", errors.New("command is required")
	}
	shell := opts.Shell
	if shell == "" {
		shell = "sh"
	}
	workDir := WorkspaceMount
	if opts.WorkDir != "" && opts.WorkDir != "." {
		workDir = path.Join(WorkspaceMount, opts.WorkDir)
	}

	b.args = []string{"bwrap"}
	b.addSystemBinds()
	// The tmpfs must be mounted before the workspace bind: bwrap applies
	// mounts in argument order and a later tmpfs would shadow the bind.
	b.args = append(b.args, "--tmpfs", "/tmp")
	b.bind(opts.RootDir, WorkspaceMount)
	b.args = append(b.args, "--chdir", workDir)
	b.addNamespaces(opts.ShareNet)
	b.args = append(b.args,
		"--die-with-parent",
		"--dev", "/dev",
		"--proc", "/proc",
		"--",
		shell, "-c", opts.Command,
	)
	return b.args, workDir, nil
}

func (b *Builder) addSystemBinds() {
	b.args = append(b.args, "--ro-bind", "/usr", "/usr")
	// These are symlinks into /usr on merged-usr distributions and absent on
	// some hosts, so a missing one must not abort the sandbox.
	for _, dir := range []string{"/lib", "/lib64", "/bin", "/sbin"} {
		b.args = append(b.args, "--ro-bind-try", dir, dir)
	}
}

func (b *Builder) bind(source, dest string) {
	b.args = append(b.args, "--bind", source, dest)
}

func (b *Builder) addNamespaces(shareNet bool) {
	b.args = append(b.args, "--unshare-all")
	if shareNet {
		b.args = append(b.args, "--share-net")
	}
}
