// FILE: src/internal/transport/conn.go
package transport

import (
	"fmt"
	"net"
	"time"

	"github.com/lixenwraith/log"
	"go.mongodb.org/mongo-driver/bson"
)

// Options holds the dial and I/O bounds for one connection. The read
// timeout is the only bound on a server that never terminates a
// conversation; there is no higher-level retry or cancellation.
type Options struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Conn is a synchronous command connection. It is owned exclusively by
// one caller at a time; requests never interleave.
type Conn struct {
	nc        net.Conn
	opts      Options
	logger    *log.Logger
	requestID int32
}

// Dial opens a command connection to addr.
func Dial(addr string, opts Options, logger *log.Logger) (*Conn, error) {
	nc, err := net.DialTimeout("tcp", addr, opts.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	logger.Debug("msg", "Connection established",
		"component", "transport",
		"remote_addr", nc.RemoteAddr().String())

	return &Conn{nc: nc, opts: opts, logger: logger}, nil
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// RemoteAddr reports the peer address.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// RunCommand sends one command document against db and blocks for its
// reply. A reply the server marked failed comes back as *ServerError;
// a reply without a document comes back as ErrNoDocument.
func (c *Conn) RunCommand(db string, cmd bson.D) (bson.Raw, error) {
	full := make(bson.D, 0, len(cmd)+1)
	full = append(full, cmd...)
	full = append(full, bson.E{Key: "$db", Value: db})

	doc, err := bson.Marshal(full)
	if err != nil {
		return nil, fmt.Errorf("marshal command: %w", err)
	}

	c.requestID++
	id := c.requestID

	if c.opts.WriteTimeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
			return nil, fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := c.nc.Write(EncodeMsg(id, 0, doc)); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}

	if c.opts.ReadTimeout > 0 {
		if err := c.nc.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
	}

	for {
		frame, err := ReadFrame(c.nc)
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		msg, err := DecodeMsg(frame)
		if err != nil {
			return nil, err
		}
		if msg.ResponseTo != id {
			c.logger.Warn("msg", "Discarding reply for unknown request",
				"component", "transport",
				"response_to", msg.ResponseTo,
				"expected", id)
			continue
		}
		return msg.Doc, checkCommandReply(msg.Doc)
	}
}

// checkCommandReply maps an explicit server rejection to *ServerError.
func checkCommandReply(doc bson.Raw) error {
	v := doc.Lookup("ok")
	var ok bool
	switch v.Type {
	case bson.TypeDouble:
		ok = v.Double() == 1
	case bson.TypeInt32:
		ok = v.Int32() == 1
	case bson.TypeInt64:
		ok = v.Int64() == 1
	default:
		// Replies without an ok field are accepted as-is
		return nil
	}
	if ok {
		return nil
	}

	serr := &ServerError{}
	if code, err := doc.LookupErr("code"); err == nil {
		if n, cerr := code.AsInt64OK(); cerr {
			serr.Code = int32(n)
		}
	}
	if msg, err := doc.LookupErr("errmsg"); err == nil {
		if s, sok := msg.StringValueOK(); sok {
			serr.Message = s
		}
	}
	return serr
}
