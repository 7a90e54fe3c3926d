package scan

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gndumbri/arbiter-ai-sub001/internal/platform/logger"
)

const (
	defaultClamAVAddress     = "127.0.0.1:3310"
	defaultClamAVTimeoutSecs = 60
	clamavChunkBytes         = 1 << 15
)

// clamavScanner streams staged files to a clamd daemon with the INSTREAM
// command: null-terminated command, then length-prefixed chunks, then a
// zero-length chunk, then one null-terminated reply.
type clamavScanner struct {
	log     *logger.Logger
	address string
	timeout time.Duration
}

func newClamAVScanner(log *logger.Logger) (*clamavScanner, error) {
	address := strings.TrimSpace(os.Getenv("CLAMAV_ADDRESS"))
	if address == "" {
		address = defaultClamAVAddress
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, &BootstrapError{
			Code:    BootstrapErrorInvalidAddress,
			Message: fmt.Sprintf("CLAMAV_ADDRESS %q is not host:port", address),
		}
	}

	timeout := time.Duration(defaultClamAVTimeoutSecs) * time.Second
	if raw := strings.TrimSpace(os.Getenv("CLAMAV_TIMEOUT_SECS")); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, &BootstrapError{
				Code:    BootstrapErrorInvalidTimeout,
				Message: fmt.Sprintf("CLAMAV_TIMEOUT_SECS %q is not a positive integer", raw),
			}
		}
		timeout = time.Duration(secs) * time.Second
	}

	return &clamavScanner{
		log:     log.With("scanner", ProviderClamAV),
		address: address,
		timeout: timeout,
	}, nil
}

func (c *clamavScanner) Name() string { return ProviderClamAV }

func (c *clamavScanner) Scan(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open staged file: %w", err)
	}
	defer f.Close()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", c.address)
	if err != nil {
		return nil, fmt.Errorf("dial clamd at %s: %w", c.address, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("set clamd deadline: %w", err)
	}

	if _, err := conn.Write([]byte("zINSTREAM\x00")); err != nil {
		return nil, fmt.Errorf("write INSTREAM command: %w", err)
	}
	if err := streamChunks(ctx, conn, f); err != nil {
		return nil, err
	}

	reply, err := readReply(conn)
	if err != nil {
		return nil, fmt.Errorf("read clamd reply: %w", err)
	}
	return parseReply(reply)
}

func streamChunks(ctx context.Context, conn net.Conn, r io.Reader) error {
	buf := make([]byte, clamavChunkBytes)
	hdr := make([]byte, 4)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			binary.BigEndian.PutUint32(hdr, uint32(n))
			if _, werr := conn.Write(hdr); werr != nil {
				return fmt.Errorf("write chunk header: %w", werr)
			}
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("write chunk: %w", werr)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read staged file: %w", err)
		}
	}
	binary.BigEndian.PutUint32(hdr, 0)
	if _, err := conn.Write(hdr); err != nil {
		return fmt.Errorf("write stream terminator: %w", err)
	}
	return nil
}

func readReply(conn net.Conn) (string, error) {
	reply, err := bufio.NewReader(conn).ReadString('\x00')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	if strings.TrimSpace(strings.Trim(reply, "\x00")) == "" {
		return "", fmt.Errorf("empty reply")
	}
	return reply, nil
}

func parseReply(reply string) (*Result, error) {
	reply = strings.TrimSpace(strings.Trim(reply, "\x00"))
	reply = strings.TrimPrefix(reply, "stream: ")
	switch {
	case reply == "OK":
		return &Result{Clean: true}, nil
	case strings.HasSuffix(reply, " FOUND"):
		return &Result{Clean: false, Signature: strings.TrimSuffix(reply, " FOUND")}, nil
	default:
		// Includes "INSTREAM size limit exceeded. ERROR" and protocol noise.
		return nil, fmt.Errorf("clamd reply %q", reply)
	}
}
