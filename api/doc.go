/*
Package api holds the wire types shared by the task client, the stream channel and the stub backend.

A job is submitted with an HTTP POST to the kind's submit path, which answers with a task id.
Progress for that task is then read from a per-task WebSocket at the kind's stream path. Every frame is a
JSON object with a "type" field:

	{"type": "progress", "percent": 50, "status": "Sampling", "preview": null}
	{"type": "stream", "history": [{"role": "assistant", "content": "Hel"}]}
	{"type": "complete", "images": ["/api/outputs/a.png"]}
	{"type": "error", "message": "out of memory"}

Frames that don't parse, or carry an unknown type, are meant to be dropped by readers.
*/
package api
