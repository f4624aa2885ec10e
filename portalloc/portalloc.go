package portalloc

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Reservation is a port held against other allocators on the host by
// keeping a throwaway listener bound to it. Release it only after the real
// service socket owns the port, so the port is never observably free while
// unclaimed.
type Reservation struct {
	port    int
	ln      net.Listener
	release sync.Once
}

// Allocate reserves an unused port in [min, max). It retries on bind
// conflicts without an upper bound; the range is assumed large relative to
// the number of concurrent allocators.
func Allocate(min, max int) (*Reservation, error) {
	if min <= 0 || max <= min {
		return nil, fmt.Errorf("portalloc: invalid range [%d, %d)", min, max)
	}
	for {
		port, err := randomPort(min, max)
		if err != nil {
			return nil, err
		}
		ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
		if err != nil {
			log.Debug().Int("port", port).Err(err).Msg("portalloc: bind conflict, retrying")
			continue
		}
		log.Info().Int("port", port).Msg("portalloc: port reserved")
		return &Reservation{port: port, ln: ln}, nil
	}
}

// Port returns the reserved port number.
func (r *Reservation) Port() int {
	return r.port
}

// Release frees the reservation. Safe to call more than once; only the
// first call closes the holding socket.
func (r *Reservation) Release() {
	r.release.Do(func() {
		_ = r.ln.Close()
		log.Info().Int("port", r.port).Msg("portalloc: port released")
	})
}

// Detach hands the bound socket to the caller and ends the reservation
// without the port ever being observably free. The caller owns closing the
// listener; a later Release is a no-op. Returns nil once the reservation
// has already been released or detached.
func (r *Reservation) Detach() net.Listener {
	var ln net.Listener
	r.release.Do(func() {
		ln = r.ln
		log.Info().Int("port", r.port).Msg("portalloc: socket handed off")
	})
	return ln
}

func randomPort(min, max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max-min)))
	if err != nil {
		return 0, err
	}
	return min + int(n.Int64()), nil
}
