package ircd

// WriteLoop drains c's outbound queue to the socket in FIFO order
// (spec §4.5). It returns, closing the connection, as soon as it has
// written an ERROR frame, or when the queue's producer side closes
// (c.closed fires): in that case any messages already buffered are
// flushed first, an ERROR frame (enqueued by Stop) included. A write
// error terminates the session immediately.
func (c *Client) WriteLoop() error {
	for {
		select {
		case msg := <-c.outgoing:
			if err := c.writeMessage(msg); err != nil {
				c.conn.Close()
				return prefixError("ircd: write message", err)
			}
			if msg.Command == "ERROR" {
				c.conn.Close()
				return nil
			}
		case <-c.closed:
			return c.drainAndClose()
		}
	}
}

// drainAndClose flushes whatever is already buffered in outgoing
// (non-blocking) before closing the socket, so a Stop-enqueued ERROR
// frame that lost the select race still reaches the client.
func (c *Client) drainAndClose() error {
	for {
		select {
		case msg := <-c.outgoing:
			if err := c.writeMessage(msg); err != nil {
				c.conn.Close()
				return prefixError("ircd: write message", err)
			}
		default:
			c.conn.Close()
			return nil
		}
	}
}
