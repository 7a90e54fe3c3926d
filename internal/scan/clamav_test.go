package scan

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type clamdStub struct {
	ln      net.Listener
	reply   string
	done    chan struct{}
	gotCmd  string
	gotBody []byte
	err     error
}

func startClamdStub(t *testing.T, reply string) *clamdStub {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &clamdStub{ln: ln, reply: reply, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() { ln.Close() })
	return s
}

func (s *clamdStub) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		s.err = err
		return
	}
	defer conn.Close()

	cmd := make([]byte, len("zINSTREAM\x00"))
	if _, err := io.ReadFull(conn, cmd); err != nil {
		s.err = err
		return
	}
	s.gotCmd = string(cmd)

	hdr := make([]byte, 4)
	for {
		if _, err := io.ReadFull(conn, hdr); err != nil {
			s.err = err
			return
		}
		size := binary.BigEndian.Uint32(hdr)
		if size == 0 {
			break
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(conn, chunk); err != nil {
			s.err = err
			return
		}
		s.gotBody = append(s.gotBody, chunk...)
	}
	if _, err := conn.Write([]byte(s.reply)); err != nil {
		s.err = err
	}
}

func stageTestFile(t *testing.T, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.pdf")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write staged file: %v", err)
	}
	return path
}

func newTestClamAVScanner(t *testing.T, address string) *clamavScanner {
	t.Helper()
	return &clamavScanner{
		log:     newTestLogger(t),
		address: address,
		timeout: 5 * time.Second,
	}
}

func TestClamAVScanCleanFile(t *testing.T) {
	// Two chunks worth of bytes so the length-prefixed framing is exercised
	// across a chunk boundary.
	content := bytes.Repeat([]byte("a"), clamavChunkBytes+128)
	stub := startClamdStub(t, "stream: OK\x00")
	path := stageTestFile(t, content)

	res, err := newTestClamAVScanner(t, stub.ln.Addr().String()).Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !res.Clean || res.Signature != "" {
		t.Fatalf("result: got=%#v", res)
	}

	<-stub.done
	if stub.err != nil {
		t.Fatalf("stub: %v", stub.err)
	}
	if stub.gotCmd != "zINSTREAM\x00" {
		t.Fatalf("command: got=%q", stub.gotCmd)
	}
	if !bytes.Equal(stub.gotBody, content) {
		t.Fatalf("streamed bytes: want=%d got=%d", len(content), len(stub.gotBody))
	}
}

func TestClamAVScanInfected(t *testing.T) {
	stub := startClamdStub(t, "stream: Win.Test.EICAR_HDB-1 FOUND\x00")
	path := stageTestFile(t, []byte("%PDF-1.4 infected body"))

	res, err := newTestClamAVScanner(t, stub.ln.Addr().String()).Scan(context.Background(), path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Clean {
		t.Fatalf("expected detection, got clean result")
	}
	if res.Signature != "Win.Test.EICAR_HDB-1" {
		t.Fatalf("signature: got=%q", res.Signature)
	}
}

func TestClamAVScanDaemonError(t *testing.T) {
	stub := startClamdStub(t, "INSTREAM size limit exceeded. ERROR\x00")
	path := stageTestFile(t, []byte("%PDF-1.4 big body"))

	if _, err := newTestClamAVScanner(t, stub.ln.Addr().String()).Scan(context.Background(), path); err == nil {
		t.Fatalf("expected error for clamd ERROR reply")
	}
}

func TestClamAVScanDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	address := ln.Addr().String()
	ln.Close()

	path := stageTestFile(t, []byte("%PDF-1.4"))
	if _, err := newTestClamAVScanner(t, address).Scan(context.Background(), path); err == nil {
		t.Fatalf("expected dial error")
	}
}

func TestClamAVScanMissingFile(t *testing.T) {
	if _, err := newTestClamAVScanner(t, "127.0.0.1:3310").Scan(context.Background(), "/nonexistent/source.pdf"); err == nil {
		t.Fatalf("expected error for missing staged file")
	}
}

func TestParseReply(t *testing.T) {
	res, err := parseReply("stream: OK\x00")
	if err != nil || !res.Clean {
		t.Fatalf("OK reply: res=%#v err=%v", res, err)
	}

	res, err = parseReply("stream: Eicar-Test-Signature FOUND\x00")
	if err != nil || res.Clean || res.Signature != "Eicar-Test-Signature" {
		t.Fatalf("FOUND reply: res=%#v err=%v", res, err)
	}

	if _, err = parseReply("stream: INSTREAM size limit exceeded. ERROR\x00"); err == nil {
		t.Fatalf("expected error for ERROR reply")
	}
	if _, err = parseReply(""); err == nil {
		t.Fatalf("expected error for empty reply")
	}
}
