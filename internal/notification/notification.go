// internal/notification/notification.go
package notification

import (
	"fmt"

	"github.com/solatis/tracenotify/internal/condition"
	"github.com/solatis/tracenotify/internal/evaluation"
	"github.com/solatis/tracenotify/internal/payload"
	"github.com/solatis/tracenotify/internal/types"
)

/*
 * Notification channel protocol.
 *
 * A client connects to the daemon's notification socket and exchanges
 * framed messages:
 *
 *   header  {type i8, size u32}  followed by size bytes of payload
 *
 *   Subscribe / Unsubscribe    client -> daemon, payload = condition
 *   CommandReply               daemon -> client, payload = {status i8}
 *   Notification               daemon -> client, payload = notification
 *   NotificationDropped        daemon -> client, no payload
 *
 * A notification is {length u32} + condition + evaluation, with length
 * covering both exactly.
 *
 * Commands are synchronous: the client sends one and waits for its reply.
 * Notifications may arrive while a reply is pending; the client keeps them
 * and hands them out from NextNotification in arrival order.
 *
 * Backpressure: the daemon gives each client a bounded outbound queue.
 * When it is full the notification is dropped and the client is told
 * once, with NotificationDropped, after the queue drains. Producers never
 * block on a slow client.
 */

// Notification pairs a condition with the evaluation that satisfied it.
type Notification struct {
	Condition  condition.Condition
	Evaluation evaluation.Evaluation
}

// Serialize appends n to p.
func Serialize(n *Notification, p *payload.Payload) error {
	if n == nil {
		return fmt.Errorf("serialize notification: %w: nil", types.ErrInvalid)
	}
	if n.Evaluation != nil && n.Condition != nil && n.Evaluation.Type() != n.Condition.Type() {
		return fmt.Errorf("serialize notification: %w: %s evaluation for a %s condition",
			types.ErrInvalid, n.Evaluation.Type(), n.Condition.Type())
	}

	lenOff := p.Reserve(4)
	start := p.Len()
	if err := condition.Serialize(n.Condition, p); err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}
	if err := evaluation.Serialize(n.Evaluation, p); err != nil {
		return fmt.Errorf("serialize notification: %w", err)
	}
	p.PutU32At(lenOff, uint32(p.Len()-start))
	return nil
}

// Deserialize decodes a notification from the start of v.
func Deserialize(v payload.View) (*Notification, int, error) {
	r := payload.NewReader(v)
	length := r.U32()
	body := r.View(int(length))
	if err := r.Err(); err != nil {
		return nil, 0, fmt.Errorf("deserialize notification: %w", err)
	}

	cond, cn, err := condition.Deserialize(body)
	if err != nil {
		return nil, 0, fmt.Errorf("deserialize notification: %w", err)
	}
	eval, en, err := evaluation.Deserialize(cond, body.Sub(cn, -1))
	if err != nil {
		return nil, 0, fmt.Errorf("deserialize notification: %w", err)
	}
	if cn+en != int(length) {
		return nil, 0, fmt.Errorf("deserialize notification: %w: length %d, contents use %d",
			types.ErrCorrupt, length, cn+en)
	}
	return &Notification{Condition: cond, Evaluation: eval}, r.Offset(), nil
}
