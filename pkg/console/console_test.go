package console

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func TestBuffer(t *testing.T) {
	var b Buffer
	b.Printf("%7d %s\n", 12, "main")
	assert.Equal(t, "     12 main\n", b.String())
	b.Reset()
	assert.Empty(t, b.String())
}

func TestLogSinkSplitsLines(t *testing.T) {
	var out bytes.Buffer
	s := NewLogSink(zerolog.New(&out), zerolog.InfoLevel)
	s.Printf("first ")
	assert.Empty(t, out.String())
	s.Printf("half\nsecond\n")

	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"message":"first half"`)
	assert.Contains(t, string(lines[1]), `"message":"second"`)
}

func TestWriterAdapter(t *testing.T) {
	var b Buffer
	w := Writer(Multi(&b, Discard))
	n, err := w.Write([]byte("100%\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "100%\n", b.String())
}

func TestBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	lines, cancel := b.Subscribe(4)

	b.Printf("one\ntw")
	b.Printf("o\n")

	l := <-lines
	assert.Equal(t, "one", l.Text)
	assert.Equal(t, uint64(1), l.Seq)
	l = <-lines
	assert.Equal(t, "two", l.Text)

	cancel()
	cancel()
	_, ok := <-lines
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers())
}

func TestBroadcasterDropsForSlowReaders(t *testing.T) {
	b := NewBroadcaster()
	_, cancel := b.Subscribe(1)
	defer cancel()
	b.Printf("a\nb\nc\n")
	assert.Equal(t, uint64(2), b.Dropped())
}

func TestRemoteTail(t *testing.T) {
	lis := bufconn.Listen(1 << 16)
	b := NewBroadcaster()
	srv := NewServer(b, DefaultServerConfig())
	go srv.Serve(lis)
	defer srv.Stop()

	client, err := Dial("bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan Line, 4)
	go client.Tail(ctx, 8, func(l Line) { got <- l })

	require.Eventually(t, func() bool { return b.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)
	b.Printf("stack overflow\n")

	select {
	case l := <-got:
		assert.Equal(t, "stack overflow", l.Text)
	case <-ctx.Done():
		t.Fatal("no line received")
	}
}
