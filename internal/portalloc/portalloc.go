package portalloc

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ent0n29/speechbridge/internal/faults"
)

const maxPort = 65535

// Allocate returns the first port in [preferred, preferred+maxAttempts) that
// can be bound on host. Each candidate is probed with a transient listener
// that is closed before returning.
func Allocate(host string, preferred, maxAttempts int) (int, error) {
	if preferred <= 0 || preferred > maxPort {
		return 0, faults.New(faults.KindInvalidArguments, fmt.Sprintf("preferred port %d out of range", preferred))
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	for port := preferred; port < preferred+maxAttempts && port <= maxPort; port++ {
		if available(host, port) {
			return port, nil
		}
	}
	return 0, &faults.Error{
		Kind:    faults.KindNoAvailablePort,
		Message: fmt.Sprintf("no available port in [%d, %d)", preferred, preferred+maxAttempts),
	}
}

func available(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	return ln.Close() == nil
}
