package api

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/esp32-tools/memharness/internal/storage"
)

// Serial tail message types (server -> client)
const (
	MsgTypeLine      = "line"
	MsgTypeFollowing = "following"
	MsgTypeEOF       = "eof"
	MsgTypeError     = "error"
)

// TailMessage is one websocket frame of the serial tail
type TailMessage struct {
	Type    string `json:"type"`
	LineNo  int    `json:"line_no,omitempty"`
	Line    string `json:"line,omitempty"`
	Message string `json:"message,omitempty"`
}

// SerialTailHandlerImpl replays serial.log and then follows appended lines
type SerialTailHandlerImpl struct {
	root     string
	upgrader websocket.Upgrader
}

func NewSerialTailHandler(root string) SerialTailHandler {
	return &SerialTailHandlerImpl{
		root: root,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
		},
	}
}

// HandleSerialTail upgrades to a websocket, sends every existing line, then
// streams new lines as the file grows. With ?follow=0 it stops after the
// replay.
func (h *SerialTailHandlerImpl) HandleSerialTail(c echo.Context) error {
	id := c.Param("id")
	dir, err := storage.ResolveRun(h.root, id)
	if err != nil {
		return runError(id, err)
	}
	path := storage.ArtifactsFor(dir).SerialLog
	f, err := os.Open(path)
	if err != nil {
		return NewNotFoundError("serial log", id)
	}
	defer f.Close()

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	fmt.Printf("[WebSocket] Serial tail opened for %s\n", id)
	defer fmt.Printf("[WebSocket] Serial tail closed for %s\n", id)

	t := &tailer{r: bufio.NewReader(f), ws: ws}
	if err := t.drain(); err != nil {
		return nil
	}
	if c.QueryParam("follow") == "0" {
		t.finish()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.send(TailMessage{Type: MsgTypeError, Message: err.Error()})
		return nil
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		t.send(TailMessage{Type: MsgTypeError, Message: err.Error()})
		return nil
	}
	// Lines written between the replay and Add.
	if err := t.drain(); err != nil {
		return nil
	}
	if err := t.send(TailMessage{Type: MsgTypeFollowing}); err != nil {
		return nil
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Write) {
				if err := t.drain(); err != nil {
					return nil
				}
			}
			if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				t.finish()
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Printf("[WebSocket] watcher error: %v\n", err)
		}
	}
}

// tailer turns file reads into line frames, holding back a partial last line.
type tailer struct {
	r       *bufio.Reader
	ws      *websocket.Conn
	pending string
	lineNo  int
}

func (t *tailer) drain() error {
	for {
		s, err := t.r.ReadString('\n')
		if err != nil {
			t.pending += s
			if err == io.EOF {
				return nil
			}
			return err
		}
		line := strings.TrimRight(t.pending+s, "\r\n")
		t.pending = ""
		t.lineNo++
		if err := t.send(TailMessage{Type: MsgTypeLine, LineNo: t.lineNo, Line: line}); err != nil {
			return err
		}
	}
}

func (t *tailer) send(m TailMessage) error {
	return t.ws.WriteJSON(m)
}

func (t *tailer) finish() {
	t.send(TailMessage{Type: MsgTypeEOF, LineNo: t.lineNo})
	t.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
