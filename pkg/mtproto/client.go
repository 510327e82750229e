// Package mtproto wraps the MTProto user session used for large-file
// acquisition beyond the bot API limit.
package mtproto

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/telarch/telarch/internal/logger"
)

// Config holds the MTProto credentials.
type Config struct {
	APIID       int
	APIHash     string
	Phone       string
	SessionPath string
}

// Configured reports whether credentials are present. Without them the
// worker runs in simulate mode.
func (c *Config) Configured() bool {
	return c.APIID != 0 && c.APIHash != "" && c.Phone != ""
}

// FileMeta describes a downloaded file.
type FileMeta struct {
	Name      string
	SizeBytes int64
	MIMEType  string
}

// Client is a long-lived MTProto session.
type Client struct {
	cfg     Config
	secrets SecretStore

	mu      sync.Mutex
	tg      *telegram.Client
	flow    auth.Flow
	cancel  context.CancelFunc
	runDone chan error
}

// NewClient builds a Client. The session is not started.
func NewClient(cfg Config, secrets SecretStore) *Client {
	c := &Client{cfg: cfg, secrets: secrets}
	c.flow = auth.NewFlow(
		&secretAuthenticator{phone: cfg.Phone, secrets: secrets},
		auth.SendCodeOptions{},
	)
	return c
}

// Start connects the session in the background and performs login if the
// stored session is not authorized. Start blocks until the connection is up
// (or failed); login itself may wait on administrator-submitted secrets.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tg != nil {
		return fmt.Errorf("session already started")
	}
	if !c.cfg.Configured() {
		return fmt.Errorf("mtproto credentials not configured")
	}

	c.tg = telegram.NewClient(c.cfg.APIID, c.cfg.APIHash, telegram.Options{
		SessionStorage: &telegram.FileSessionStorage{Path: c.cfg.SessionPath},
	})

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.runDone = make(chan error, 1)
	ready := make(chan struct{})

	go func() {
		err := c.tg.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return ctx.Err()
		})
		c.runDone <- err
	}()

	select {
	case <-ready:
	case err := <-c.runDone:
		c.tg = nil
		c.cancel = nil
		return fmt.Errorf("mtproto session failed to start: %w", err)
	case <-ctx.Done():
		cancel()
		c.tg = nil
		c.cancel = nil
		return ctx.Err()
	}

	logger.Info("MTProto session connected", "session_path", c.cfg.SessionPath)
	return nil
}

// Stop tears the session down.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}
	c.cancel()
	err := <-c.runDone
	c.tg = nil
	c.cancel = nil
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func (c *Client) api() (*telegram.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tg == nil {
		return nil, fmt.Errorf("session not started")
	}
	return c.tg, nil
}

// Healthy probes the session by fetching the own user. Equivalent to the
// classic get_me health check.
func (c *Client) Healthy(ctx context.Context) error {
	tgc, err := c.api()
	if err != nil {
		return err
	}

	status, err := tgc.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status check failed: %w", err)
	}
	if !status.Authorized {
		return fmt.Errorf("session not authorized")
	}
	if _, err := tgc.Self(ctx); err != nil {
		return fmt.Errorf("get_me failed: %w", err)
	}
	return nil
}

// Authorize runs the interactive login flow if the session is unauthorized.
// It blocks while the authenticator waits for secrets, observing ctx.
func (c *Client) Authorize(ctx context.Context) error {
	tgc, err := c.api()
	if err != nil {
		return err
	}
	if err := tgc.Auth().IfNecessary(ctx, c.flow); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	return nil
}

// Download streams the media of (chatID, messageID) into w, reporting bytes
// through progress when non-nil. Returns the file metadata.
func (c *Client) Download(ctx context.Context, chatID int64, messageID int64, w io.Writer, progress func(written int64)) (*FileMeta, error) {
	tgc, err := c.api()
	if err != nil {
		return nil, err
	}
	api := tgc.API()

	msg, err := fetchMessage(ctx, api, messageID)
	if err != nil {
		return nil, err
	}

	loc, meta, err := mediaLocation(msg)
	if err != nil {
		return nil, err
	}

	out := w
	if progress != nil {
		out = &progressWriter{w: w, report: progress}
	}

	if _, err := downloader.NewDownloader().Download(api, loc).Stream(ctx, out); err != nil {
		return nil, fmt.Errorf("download failed for message %d in chat %d: %w", messageID, chatID, err)
	}
	return meta, nil
}

// fetchMessage resolves a message by id. Jobs originate from the bot's
// private dialogs, where the user session shares one message id sequence.
func fetchMessage(ctx context.Context, api *tg.Client, messageID int64) (*tg.Message, error) {
	res, err := api.MessagesGetMessages(ctx, []tg.InputMessageClass{
		&tg.InputMessageID{ID: int(messageID)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch message %d: %w", messageID, err)
	}

	var list []tg.MessageClass
	switch v := res.(type) {
	case *tg.MessagesMessages:
		list = v.Messages
	case *tg.MessagesMessagesSlice:
		list = v.Messages
	case *tg.MessagesChannelMessages:
		list = v.Messages
	default:
		return nil, fmt.Errorf("unexpected response %T", res)
	}

	for _, m := range list {
		if msg, ok := m.(*tg.Message); ok && int64(msg.ID) == messageID {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %d not found", messageID)
}

// mediaLocation extracts a downloadable location and metadata from a message.
func mediaLocation(msg *tg.Message) (tg.InputFileLocationClass, *FileMeta, error) {
	media, ok := msg.GetMedia()
	if !ok {
		return nil, nil, fmt.Errorf("message %d has no media", msg.ID)
	}

	switch m := media.(type) {
	case *tg.MessageMediaDocument:
		docClass, ok := m.GetDocument()
		if !ok {
			return nil, nil, fmt.Errorf("document missing from message %d", msg.ID)
		}
		doc, ok := docClass.(*tg.Document)
		if !ok {
			return nil, nil, fmt.Errorf("document unavailable for message %d", msg.ID)
		}

		meta := &FileMeta{SizeBytes: doc.Size, MIMEType: doc.MimeType}
		for _, attr := range doc.Attributes {
			if fn, ok := attr.(*tg.DocumentAttributeFilename); ok {
				meta.Name = fn.FileName
			}
		}
		return &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, meta, nil

	case *tg.MessageMediaPhoto:
		photoClass, ok := m.GetPhoto()
		if !ok {
			return nil, nil, fmt.Errorf("photo missing from message %d", msg.ID)
		}
		photo, ok := photoClass.(*tg.Photo)
		if !ok {
			return nil, nil, fmt.Errorf("photo unavailable for message %d", msg.ID)
		}

		var best *tg.PhotoSize
		for _, s := range photo.Sizes {
			if ps, ok := s.(*tg.PhotoSize); ok {
				if best == nil || ps.Size > best.Size {
					best = ps
				}
			}
		}
		if best == nil {
			return nil, nil, fmt.Errorf("photo %d has no downloadable size", photo.ID)
		}
		return &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     best.Type,
		}, &FileMeta{SizeBytes: int64(best.Size), MIMEType: "image/jpeg"}, nil

	default:
		return nil, nil, fmt.Errorf("unsupported media %T in message %d", media, msg.ID)
	}
}

type progressWriter struct {
	w       io.Writer
	written int64
	report  func(written int64)
	last    time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if time.Since(p.last) >= time.Second {
		p.last = time.Now()
		p.report(p.written)
	}
	return n, err
}
