package gateway

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = pongWait / 2
	peerQueue    = 256
)

// peer is one websocket subscriber. The feed only flows outward; reads exist
// to answer pings and notice the connection going away.
type peer struct {
	conn  *websocket.Conn
	queue chan []byte
}

func newPeer(conn *websocket.Conn) *peer {
	return &peer{conn: conn, queue: make(chan []byte, peerQueue)}
}

// offer queues data without blocking and reports whether it fit.
func (p *peer) offer(data []byte) bool {
	select {
	case p.queue <- data:
		return true
	default:
		return false
	}
}

// serve runs both pumps; gone is called once the read side fails.
func (p *peer) serve(gone func(*peer)) {
	go p.writeLoop()
	go p.readLoop(gone)
}

func (p *peer) writeLoop() {
	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		p.conn.Close()
	}()

	for {
		var (
			kind = websocket.TextMessage
			data []byte
		)
		select {
		case msg, open := <-p.queue:
			if !open {
				p.conn.SetWriteDeadline(time.Now().Add(writeWait))
				p.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			data = msg
		case <-ping.C:
			kind = websocket.PingMessage
		}
		p.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := p.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (p *peer) readLoop(gone func(*peer)) {
	defer func() {
		gone(p)
		p.conn.Close()
	}()

	p.conn.SetReadLimit(512)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[gateway] ws read: %v", err)
			}
			return
		}
	}
}
