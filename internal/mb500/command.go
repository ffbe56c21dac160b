package mb500

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/rock-drivers/drivers-mb500/internal/frame"
	"github.com/rock-drivers/drivers-mb500/internal/nmea"
)

var (
	// ErrRejected matches every *RejectedError.
	ErrRejected = errors.New("command rejected")
	// ErrAckTimeout is returned when neither ACK nor NAK arrived within
	// Options.AckTimeout.
	ErrAckTimeout = errors.New("acknowledge timed out")
	// ErrInvalidArgument is returned before anything is sent.
	ErrInvalidArgument = errors.New("invalid argument")
)

// RejectedError reports a $PASHR,NAK reply.
type RejectedError struct {
	Label string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("mb500: %s: %v", e.Label, ErrRejected)
}

func (e *RejectedError) Is(target error) bool { return target == ErrRejected }

// Command is one framed $PASHS or $PASHQ sentence plus a label for logs
// and errors.
type Command struct {
	Label string
	Text  string
}

// Set builds "$PASHS,KEYWORD[,args]*CS\r\n".
func Set(label, keyword string, args ...string) Command {
	body := "PASHS," + keyword
	if len(args) > 0 {
		body += "," + strings.Join(args, ",")
	}
	return Command{Label: label, Text: nmea.Sentence(body)}
}

// Query builds "$PASHQ,KEYWORD[,port]*CS\r\n".
func Query(keyword, port string) Command {
	body := "PASHQ," + keyword
	if port != "" {
		body += "," + port
	}
	return Command{Label: "QUERY " + keyword, Text: nmea.Sentence(body)}
}

// Ack is the outcome of one command.
type Ack struct {
	Label    string
	Accepted bool
}

// Exec sends cmd and waits for its ACK or NAK. A NAK yields a
// *RejectedError alongside the Ack. Frames other than ACK/NAK that arrive
// while waiting are discarded, as are replies already buffered before the
// command is sent.
func (d *Driver) Exec(ctx context.Context, cmd Command) (Ack, error) {
	d.discardBuffered()
	if err := d.send(cmd.Text); err != nil {
		return Ack{Label: cmd.Label}, fmt.Errorf("mb500: send %s: %w", cmd.Label, err)
	}
	return d.awaitAck(ctx, cmd.Label)
}

// ExecBatch sends all commands in a single write and then collects one
// acknowledge per command, in order. After the first failure the replies
// still owed by the rest of the batch are read and ignored.
func (d *Driver) ExecBatch(ctx context.Context, cmds ...Command) error {
	d.discardBuffered()
	var b strings.Builder
	for _, c := range cmds {
		b.WriteString(c.Text)
	}
	if err := d.send(b.String()); err != nil {
		return fmt.Errorf("mb500: send batch: %w", err)
	}
	for i, c := range cmds {
		if _, err := d.awaitAck(ctx, c.Label); err != nil {
			d.drainReplies(ctx, len(cmds)-i-1)
			return err
		}
	}
	return nil
}

func isReply(k nmea.Kind) bool { return k == nmea.KindAck || k == nmea.KindNak }

// drainReplies consumes up to n ACK/NAK frames, stopping at the first
// timeout.
func (d *Driver) drainReplies(ctx context.Context, n int) {
	for ; n > 0; n-- {
		if _, err := d.awaitFrame(ctx, isReply); err != nil {
			log.Printf("mb500 batch replies missing count=%d err=%v", n, err)
			return
		}
	}
}

// discardBuffered drops complete frames already in the receive buffer so
// a stale ACK/NAK cannot answer the next command.
func (d *Driver) discardBuffered() {
	stale := 0
	for d.r.Buffered() > 0 {
		f, err := d.readFrame(0)
		if err != nil {
			break
		}
		if isReply(nmea.Classify(f)) {
			stale++
		}
	}
	if stale > 0 {
		log.Printf("mb500 stale replies discarded count=%d", stale)
	}
}

func (d *Driver) send(text string) error {
	return d.r.Write([]byte(text), d.opts.WriteTimeout)
}

func (d *Driver) awaitAck(ctx context.Context, label string) (Ack, error) {
	ack := Ack{Label: label}
	f, err := d.awaitFrame(ctx, isReply)
	if err != nil {
		if errors.Is(err, ErrAckTimeout) {
			log.Printf("mb500 command unanswered label=%q", label)
			return ack, fmt.Errorf("mb500: %s: %w", label, ErrAckTimeout)
		}
		return ack, err
	}
	ack.Accepted, _ = nmea.DecodeAck(f)
	if !ack.Accepted {
		d.rejected.Add(1)
		log.Printf("mb500 command rejected label=%q", label)
		return ack, &RejectedError{Label: label}
	}
	return ack, nil
}

// awaitFrame reads until a frame whose kind satisfies match arrives,
// bounded by ctx and Options.AckTimeout. Per-read timeouts are retried.
func (d *Driver) awaitFrame(ctx context.Context, match func(nmea.Kind) bool) (string, error) {
	deadline := d.now().Add(d.opts.AckTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		remaining := deadline.Sub(d.now())
		if remaining <= 0 {
			return "", ErrAckTimeout
		}
		wait := d.acqTimeout
		if wait > remaining {
			wait = remaining
		}
		f, err := d.readFrame(wait)
		if errors.Is(err, frame.ErrTimeout) {
			continue
		}
		if err != nil {
			return "", err
		}
		if match(nmea.Classify(f)) {
			return f, nil
		}
	}
}
