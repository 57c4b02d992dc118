/*
Package stream provides the client side of the backend's per-task WebSocket streams.

After a job is submitted, the backend streams its progress on /api/ws/<kind>/<task id> as JSON text frames,
one api.Message per frame. The backend closes the connection when the task is over; the client only closes
it to abandon a task it no longer cares about.

A Channel delivers, in arrival order, one Event per well-formed frame, followed by exactly one Event with
Closed set when the connection is closed by the backend or lost. Frames that are not valid JSON or have an
unknown type are dropped. Once Close returns, no further Events are delivered, including the Closed one.
*/
package stream
