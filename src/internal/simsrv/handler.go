// FILE: src/internal/simsrv/handler.go
package simsrv

import (
	"bytes"
	"net"
	"sync"
	"unicode/utf8"

	"github.com/panjf2000/gnet/v2"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"mongowire/src/internal/core"
	"mongowire/src/internal/transport"
)

// conversation steps
const (
	stepProof = iota // awaiting the proof-bearing continue
	stepEmpty        // proof verified, awaiting the empty continue
)

type conversation struct {
	id   int32
	user string
	step int
}

// client is the per-connection state: partial frames accumulate here
// until a full one is available.
type client struct {
	buffer bytes.Buffer
}

// commandServer handles gnet events.
type commandServer struct {
	gnet.BuiltinEventEngine
	server  *Server
	clients map[gnet.Conn]*client
	mu      sync.RWMutex
	reqSeq  int32
}

func (cs *commandServer) OnBoot(eng gnet.Engine) gnet.Action {
	cs.server.engineMu.Lock()
	cs.server.engine = &eng
	cs.server.engineMu.Unlock()

	cs.server.logger.Debug("msg", "Simulation server booted",
		"component", "simsrv",
		"listen", cs.server.cfg.Listen)
	return gnet.None
}

func (cs *commandServer) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	cs.mu.Lock()
	cs.clients[c] = &client{}
	cs.mu.Unlock()

	cs.server.logger.Debug("msg", "Connection opened",
		"component", "simsrv",
		"remote_addr", c.RemoteAddr().String())
	return nil, gnet.None
}

func (cs *commandServer) OnClose(c gnet.Conn, err error) gnet.Action {
	cs.mu.Lock()
	delete(cs.clients, c)
	cs.mu.Unlock()

	cs.server.logger.Debug("msg", "Connection closed",
		"component", "simsrv",
		"remote_addr", c.RemoteAddr().String(),
		"error", err)
	return gnet.None
}

func (cs *commandServer) OnTraffic(c gnet.Conn) gnet.Action {
	cs.mu.RLock()
	cl, exists := cs.clients[c]
	cs.mu.RUnlock()
	if !exists {
		return gnet.Close
	}

	data, err := c.Next(-1)
	if err != nil {
		cs.server.logger.Error("msg", "Error reading from connection",
			"component", "simsrv",
			"error", err)
		return gnet.Close
	}
	cl.buffer.Write(data)

	for {
		total, ok := transport.PeekFrameLen(cl.buffer.Bytes())
		if !ok {
			return gnet.None
		}
		if total < 16 || total > transport.MaxMessageSize {
			cs.server.logger.Warn("msg", "Dropping connection with invalid frame length",
				"component", "simsrv",
				"remote_addr", c.RemoteAddr().String(),
				"length", total)
			return gnet.Close
		}
		if cl.buffer.Len() < total {
			return gnet.None
		}

		frame := make([]byte, total)
		copy(frame, cl.buffer.Bytes()[:total])
		cl.buffer.Next(total)

		msg, err := transport.DecodeMsg(frame)
		if err != nil {
			cs.server.logger.Warn("msg", "Dropping connection with malformed frame",
				"component", "simsrv",
				"remote_addr", c.RemoteAddr().String(),
				"error", err)
			return gnet.Close
		}

		reply := cs.handleCommand(c, msg.Doc)
		out, err := bson.Marshal(reply)
		if err != nil {
			cs.server.logger.Error("msg", "Failed to marshal reply",
				"component", "simsrv",
				"error", err)
			return gnet.Close
		}
		cs.reqSeq++
		c.AsyncWrite(transport.EncodeMsg(cs.reqSeq, msg.RequestID, out), nil)
	}
}

// handleCommand dispatches saslStart / saslContinue. Every reply
// carries ok, and successful ones echo the conversation id.
func (cs *commandServer) handleCommand(c gnet.Conn, doc bson.Raw) bson.D {
	if _, err := doc.LookupErr(core.CmdSaslStart); err == nil {
		return cs.handleSaslStart(c, doc)
	}
	if _, err := doc.LookupErr(core.CmdSaslContinue); err == nil {
		return cs.handleSaslContinue(c, doc)
	}
	return failReply(59, "no such command")
}

func (cs *commandServer) handleSaslStart(c gnet.Conn, doc bson.Raw) bson.D {
	remoteIP := remoteIP(c)
	if !cs.server.failureAllowed(remoteIP) {
		cs.server.logger.Warn("msg", "Authentication rate limited",
			"component", "simsrv",
			"remote_addr", c.RemoteAddr().String())
		return failReply(18, "too many authentication attempts")
	}

	if mech, ok := doc.Lookup(core.FieldMechanism).StringValueOK(); !ok || mech != core.Mechanism {
		return failReply(2, "mechanism not supported")
	}
	payload, ok := payloadText(doc)
	if !ok {
		return failReply(2, "invalid payload")
	}

	serverFirst, err := cs.server.scram.HandleClientFirst(payload)
	if err != nil {
		cs.server.logger.Warn("msg", "Authentication failed at saslStart",
			"component", "simsrv",
			"remote_addr", c.RemoteAddr().String(),
			"error", err)
		return failReply(18, "Authentication failed.")
	}

	cs.server.convMu.Lock()
	cs.server.convSeq++
	conv := &conversation{id: cs.server.convSeq, step: stepProof}
	cs.server.conversations[conv.id] = conv
	cs.server.convMu.Unlock()

	return okReply(conv.id, false, serverFirst)
}

func (cs *commandServer) handleSaslContinue(c gnet.Conn, doc bson.Raw) bson.D {
	convID, ok := doc.Lookup(core.FieldConversationID).Int32OK()
	if !ok {
		return failReply(2, "missing conversationId")
	}

	payload, ok := payloadText(doc)
	if !ok {
		return failReply(2, "invalid payload")
	}

	// Claim the step transition under the lock so concurrent replays of
	// one conversationId cannot both reach the verifier
	cs.server.convMu.Lock()
	conv, exists := cs.server.conversations[convID]
	var step int
	if exists {
		step = conv.step
		if step == stepProof {
			conv.step = stepEmpty
		}
	}
	cs.server.convMu.Unlock()
	if !exists {
		return failReply(17, "no SASL session state found")
	}

	switch step {
	case stepProof:
		serverFinal, err := cs.server.scram.HandleClientFinal(payload)
		if err != nil {
			cs.server.logger.Warn("msg", "Authentication failed at saslContinue",
				"component", "simsrv",
				"remote_addr", c.RemoteAddr().String(),
				"error", err)
			cs.dropConversation(convID)
			// Burn a failed-attempt token so repeated bad proofs from
			// one address get throttled at the next saslStart
			cs.server.failureAllowed(remoteIP(c))
			return failReply(18, "Authentication failed.")
		}
		return okReply(convID, false, serverFinal)

	default:
		cs.dropConversation(convID)
		return okReply(convID, true, "")
	}
}

func (cs *commandServer) dropConversation(id int32) {
	cs.server.convMu.Lock()
	delete(cs.server.conversations, id)
	cs.server.convMu.Unlock()
}

func payloadText(doc bson.Raw) (string, bool) {
	_, data, ok := doc.Lookup(core.FieldPayload).BinaryOK()
	if !ok || !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func remoteIP(c gnet.Conn) string {
	host, _, err := net.SplitHostPort(c.RemoteAddr().String())
	if err != nil {
		return c.RemoteAddr().String()
	}
	return host
}

func okReply(convID int32, done bool, payload string) bson.D {
	return bson.D{
		{Key: core.FieldConversationID, Value: convID},
		{Key: core.FieldDone, Value: done},
		{Key: core.FieldPayload, Value: primitive.Binary{Data: []byte(payload)}},
		{Key: "ok", Value: float64(1)},
	}
}

func failReply(code int32, errmsg string) bson.D {
	return bson.D{
		{Key: "ok", Value: float64(0)},
		{Key: "errmsg", Value: errmsg},
		{Key: "code", Value: code},
	}
}
