/*
Package sidecar supervises the local inference backend process.

The backend has no health-check API, so readiness and progress are inferred from the text it prints. Every
line of stdout and stderr goes through Classify: a line containing one of the ready markers moves the
Supervisor from Starting to Ready (once per process), other lines become progress messages. The last 50
stderr lines are kept to explain failures.

All lifecycle changes are reported as Events on the single channel returned by Supervisor.Events:

	sup := sidecar.NewSupervisor(sidecar.WithLogger(log))
	retry := sidecar.NewRetrySupervisor(sup, launch)
	err := retry.Launch(ctx)
	for ev := range sup.Events() {
		if !sup.IsCurrent(ev) {
			continue // left over from a sidecar that was stopped or replaced
		}
		switch ev.Type {
		case sidecar.EventProgress:
			// show ev.Message
		case sidecar.EventReady:
			// backend accepts requests on ev.Port
		case sidecar.EventError:
			// show ev.Message and offer retry.Retry(ctx)
		}
	}

Stop also waits for a sidecar that missed its readiness timeout to finish shutting down, so two sidecars
never hold the same port.

Stop terminates the whole process tree: the sidecar is started as a process group leader on POSIX systems
and the group is signaled, on Windows taskkill walks the tree. If that can't be done, only the top-level
process is terminated. Terminations requested by the supervisor are never reported as errors, whatever
exit code they produce.
*/
package sidecar
