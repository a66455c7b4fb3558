package service_test

import (
	"bytes"
	"context"
	"io"
	"log"
	"sync"

	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/identity"
	"github.com/BrandonDHaskell/Portunus/controller/internal/portunus/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func card(i int) types.CardIdentity {
	return identity.Normalize([]byte{byte(i), byte(i >> 8), 0x10, 0x20})
}

// fakeCatalog serves a fixed version and key list, delivering the body in
// chunks of chunk bytes.
type fakeCatalog struct {
	mu         sync.Mutex
	version    []byte
	keys       []types.CardIdentity
	chunk      int
	truncate   int // drop this many bytes from the end of the body
	versionErr error
	openErr    error
	opens      int
}

func (c *fakeCatalog) FetchVersion(context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.versionErr != nil {
		return nil, c.versionErr
	}
	return append([]byte(nil), c.version...), nil
}

func (c *fakeCatalog) OpenCatalog(context.Context) (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return nil, c.openErr
	}

	var buf bytes.Buffer
	for _, k := range c.keys {
		buf.Write(k[:])
		buf.WriteByte('\n')
	}
	body := buf.Bytes()[:buf.Len()-c.truncate]

	chunk := c.chunk
	if chunk <= 0 {
		chunk = len(body) + 1
	}
	return io.NopCloser(&chunkReader{r: bytes.NewReader(body), n: chunk}), nil
}

type chunkReader struct {
	r io.Reader
	n int
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(p) > c.n {
		p = p[:c.n]
	}
	return c.r.Read(p)
}

func identityOf(uid []byte) types.CardIdentity {
	return identity.Normalize(uid)
}
