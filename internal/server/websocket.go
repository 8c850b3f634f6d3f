package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"cinefetch/internal/media"
	"cinefetch/internal/resolve"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Message types sent to clients.
const (
	MsgStatus    = "status"
	MsgResult    = "result"
	MsgFailed    = "failed"
	MsgCancelled = "cancelled"
	MsgError     = "error"
)

// Update is one message pushed to a client. Request numbers the client
// request it belongs to; updates of a superseded request stop arriving
// once a newer one starts.
type Update struct {
	Type     string                `json:"type"`
	Request  uint64                `json:"request,omitempty"`
	Status   *media.AttemptStatus  `json:"status,omitempty"`
	Result   *resolve.Result       `json:"result,omitempty"`
	Statuses []media.AttemptStatus `json:"statuses,omitempty"`
	Error    string                `json:"error,omitempty"`
}

// Command is a client request. Action is "resolve" or "cancel". Sources,
// when set, replaces the computed attempt order, which is how a client
// switches to a specific source by hand.
type Command struct {
	Action    string   `json:"action"`
	Type      string   `json:"type"`
	TMDBID    string   `json:"tmdb"`
	Season    int      `json:"season,omitempty"`
	Episode   int      `json:"episode,omitempty"`
	SeasonID  string   `json:"seasonId,omitempty"`
	EpisodeID string   `json:"episodeId,omitempty"`
	Sources   []string `json:"sources,omitempty"`
}

func (c Command) query() url.Values {
	q := url.Values{}
	q.Set("type", c.Type)
	q.Set("tmdb", c.TMDBID)
	q.Set("season", strconv.Itoa(c.Season))
	q.Set("episode", strconv.Itoa(c.Episode))
	q.Set("seasonId", c.SeasonID)
	q.Set("episodeId", c.EpisodeID)
	return q
}

// wsClient is one connection. It owns a resolve session, so a new request
// on the connection supersedes the one in flight.
type wsClient struct {
	server  *Server
	conn    *websocket.Conn
	session *resolve.Session
	send    chan Update
	done    chan struct{}
	seq     atomic.Uint64
	logger  logrus.FieldLogger
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("upgrading websocket connection")
		return
	}

	c := &wsClient{
		server:  s,
		conn:    conn,
		session: s.engine.NewSession(),
		send:    make(chan Update, 64),
		done:    make(chan struct{}),
		logger:  s.logger.WithField("remote", r.RemoteAddr),
	}
	c.logger.Debug("websocket client connected")

	go c.writePump()

	if r.URL.Query().Get("tmdb") != "" {
		c.start(r.URL.Query(), nil)
	}
	c.readPump()
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case u := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(u); err != nil {
				c.logger.WithError(err).Debug("websocket write failed")
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		// stop whatever is running; its result has nowhere to go
		c.session.Cancel()
		close(c.done)
		c.logger.Debug("websocket client disconnected")
	}()

	c.conn.SetReadLimit(4096)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WithError(err).Debug("websocket read failed")
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.push(Update{Type: MsgError, Error: "invalid command: " + err.Error()})
			continue
		}

		switch cmd.Action {
		case "resolve":
			c.start(cmd.query(), cmd.Sources)
		case "cancel":
			c.session.Cancel()
		default:
			c.push(Update{Type: MsgError, Error: "unknown action " + strconv.Quote(cmd.Action)})
		}
	}
}

// push queues u unless the connection is gone.
func (c *wsClient) push(u Update) {
	select {
	case c.send <- u:
	case <-c.done:
	}
}

// start launches a resolution in the background. sources overrides the
// computed order when non-empty.
func (c *wsClient) start(q url.Values, sources []string) {
	m, err := mediaFromQuery(q)
	if err != nil {
		c.push(Update{Type: MsgError, Error: "invalid media: " + err.Error()})
		return
	}
	req := c.seq.Add(1)
	// taken here, before any I/O, so a later command always supersedes
	// an earlier one
	run := c.session.Begin()

	go func() {
		ctx := context.Background()
		observe := func(st media.AttemptStatus) {
			c.push(Update{Type: MsgStatus, Request: req, Status: &st})
		}

		ids := sources
		if len(ids) == 0 {
			providers, err := c.server.registry.Populate(ctx)
			if err == nil {
				ids, err = c.server.engine.Plan(providers, m)
			}
			if err != nil {
				if !c.session.Stale(run) {
					c.push(Update{Type: MsgError, Request: req, Error: err.Error()})
				}
				return
			}
		}
		res, err := c.session.ResolveRun(ctx, run, m, ids, observe)

		var failed *resolve.FailedError
		switch {
		case errors.Is(err, resolve.ErrSuperseded):
			return
		case errors.Is(err, resolve.ErrCancelled):
			c.push(Update{Type: MsgCancelled, Request: req})
		case errors.As(err, &failed):
			c.push(Update{Type: MsgFailed, Request: req, Statuses: failed.Statuses, Error: err.Error()})
		case err != nil:
			c.push(Update{Type: MsgError, Request: req, Error: err.Error()})
		default:
			c.push(Update{Type: MsgResult, Request: req, Result: res})
		}
	}()
}
