package probe

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/gosnmp/gosnmp"
	"github.com/rileyhilliard/proxymon/internal/errors"
)

// SNMPReader reads counters over SNMP v2c. Each call opens its own UDP
// socket so concurrent host units share nothing.
type SNMPReader struct {
	Timeout time.Duration
	Retries int
}

// NewSNMPReader returns a reader with the given per-request timeout.
func NewSNMPReader(timeout time.Duration) *SNMPReader {
	if timeout <= 0 {
		timeout = DefaultCounterTimeout
	}
	return &SNMPReader{Timeout: timeout, Retries: 1}
}

func (r *SNMPReader) connect(ctx context.Context, ep Endpoint) (*gosnmp.GoSNMP, error) {
	port := ep.Port
	if port == 0 {
		port = 161
	}
	timeout := r.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	g := &gosnmp.GoSNMP{
		Target:    ep.Host,
		Port:      uint16(port),
		Community: ep.Community,
		Version:   gosnmp.Version2c,
		Timeout:   timeout,
		Retries:   r.Retries,
		Context:   ctx,
		MaxOids:   gosnmp.MaxOids,
	}
	if err := g.Connect(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("SNMP connect to %s:%d failed", ep.Host, port), "")
	}
	return g, nil
}

// Get implements CounterReader.
func (r *SNMPReader) Get(ctx context.Context, ep Endpoint, oid string) (float64, error) {
	g, err := r.connect(ctx, ep)
	if err != nil {
		return 0, err
	}
	defer g.Conn.Close()

	pkt, err := g.Get([]string{oid})
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("SNMP get %s from %s failed", oid, ep.Host), "")
	}
	if len(pkt.Variables) == 0 {
		return 0, errors.New(errors.ErrTransport,
			fmt.Sprintf("SNMP get %s from %s returned nothing", oid, ep.Host), "")
	}
	return pduFloat(pkt.Variables[0])
}

// WalkCounters implements CounterReader.
func (r *SNMPReader) WalkCounters(ctx context.Context, ep Endpoint, root string) (map[int]uint64, error) {
	pdus, err := r.walk(ctx, ep, root)
	if err != nil {
		return nil, err
	}
	out := make(map[int]uint64, len(pdus))
	for _, pdu := range pdus {
		idx, ok := lastIndex(pdu.Name)
		if !ok {
			continue
		}
		v, err := pduFloat(pdu)
		if err != nil || v < 0 {
			continue
		}
		out[idx] = uint64(v)
	}
	return out, nil
}

// WalkStrings implements CounterReader.
func (r *SNMPReader) WalkStrings(ctx context.Context, ep Endpoint, root string) (map[int]string, error) {
	pdus, err := r.walk(ctx, ep, root)
	if err != nil {
		return nil, err
	}
	out := make(map[int]string, len(pdus))
	for _, pdu := range pdus {
		idx, ok := lastIndex(pdu.Name)
		if !ok {
			continue
		}
		switch v := pdu.Value.(type) {
		case []byte:
			out[idx] = strings.TrimRight(string(v), "\x00")
		case string:
			out[idx] = v
		}
	}
	return out, nil
}

func (r *SNMPReader) walk(ctx context.Context, ep Endpoint, root string) ([]gosnmp.SnmpPDU, error) {
	g, err := r.connect(ctx, ep)
	if err != nil {
		return nil, err
	}
	defer g.Conn.Close()

	pdus, err := g.BulkWalkAll(root)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrTransport,
			fmt.Sprintf("SNMP walk %s on %s failed", root, ep.Host), "")
	}
	return pdus, nil
}

func pduFloat(pdu gosnmp.SnmpPDU) (float64, error) {
	switch pdu.Type {
	case gosnmp.NoSuchObject, gosnmp.NoSuchInstance, gosnmp.EndOfMibView, gosnmp.Null:
		return 0, errors.New(errors.ErrTransport, fmt.Sprintf("No value at %s", pdu.Name), "")
	}
	switch v := pdu.Value.(type) {
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return 0, errors.WrapWithCode(err, errors.ErrTransport,
				fmt.Sprintf("Value at %s is not numeric", pdu.Name), "")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, errors.WrapWithCode(err, errors.ErrTransport,
				fmt.Sprintf("Value at %s is not numeric", pdu.Name), "")
		}
		return f, nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	f, _ := new(big.Float).SetInt(gosnmp.ToBigInt(pdu.Value)).Float64()
	return f, nil
}
