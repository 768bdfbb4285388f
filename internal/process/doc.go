// Package process supervises debug adapter child processes.
//
// A debug adapter launched as an executable speaks the protocol over its
// stdin and stdout. The Supervisor starts the command, exposes those pipes
// as a single duplex stream, logs every stderr line through the adapter
// component logger, and tracks the process until it exits.
//
//	sup := process.NewSupervisor()
//	defer sup.Shutdown(2 * time.Second)
//
//	proc, err := sup.Start("dlv", exec.Command("dlv", "dap"))
//	if err != nil {
//	    return err
//	}
//	tr := transport.New(proc.Stream())
//
// Shutdown sends SIGTERM to every adapter and kills the ones that have not
// exited within the grace period.
package process
