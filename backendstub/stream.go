package backendstub

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

func (b *Backend) stream(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	t, id, ok := b.lookup(params.ByName("kind"), params.ByName("id"))
	if !ok {
		http.Error(w, "unknown task", http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		b.logger.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	log := b.logger.With("Kind", t.kind, "TaskID", id)
	log.Debug("accepted task stream")

	// reading is needed to process the client's close frame
	ctx := conn.CloseRead(r.Context())

	for _, frame := range t.script.Frames {
		if !wait(ctx, t, t.script.Interval) {
			log.Debug("task stopped or client left, closing stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
		err := wsjson.Write(ctx, conn, frame)
		if err != nil {
			log.Debugf("error writing frame: %s", err)
			return
		}
	}

	switch t.script.End {
	case EndAbort:
		conn.Close(websocket.StatusInternalError, "backend error")
	case EndHold:
		select {
		case <-t.stopped:
		case <-ctx.Done():
		}
		conn.Close(websocket.StatusNormalClosure, "")
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
}

// wait returns false if the task was stopped or the client went away first.
func wait(ctx context.Context, t *stubTask, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-t.stopped:
		return false
	case <-ctx.Done():
		return false
	}
}
