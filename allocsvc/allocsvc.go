// Package allocsvc is a net/rpc introspection service over a
// memory.Global, adapted from rpc/server.go and rpc/client.go. The
// teacher exposed Allocate/Free as remote calls; spec.md's Non-goals
// exclude user-space interaction with the allocator itself, so this
// narrows the same request/response/Server shape down to a read-only
// debug surface -- stats, the buddy bitmap, and the configured slab size
// classes -- for an out-of-process harness to poll without touching the
// allocator's control path.
package allocsvc

import (
	"fmt"
	"net"
	"net/rpc"

	"github.com/shenjiangwei/kpalloc/bootlog"
	"github.com/shenjiangwei/kpalloc/memory"
)

// StatsRequest is empty; every introspection call here takes no
// parameters, mirroring the teacher's request/response struct pairing
// for each RPC method even where the request carries no fields.
type StatsRequest struct{}

// StatsResponse reports the physical memory map's region sizes and
// frame count.
type StatsResponse struct {
	RamBytes    uint64
	KernelBytes uint64
	FreeBytes   uint64
	NumFrames   uint64
	BuddyOrders uint8
}

// BitmapRequest is empty.
type BitmapRequest struct{}

// BitmapResponse reports the buddy allocator's free-list bitmap.
type BitmapResponse struct {
	Bitmap uint64
	Orders uint8
}

// SizeClassesRequest is empty.
type SizeClassesRequest struct{}

// SizeClass describes one configured slab size class.
type SizeClass struct {
	ObjectSize   uint64
	SlotsPerSlab uint64
}

// SizeClassesResponse lists every configured slab size class, smallest
// first.
type SizeClassesResponse struct {
	Classes []SizeClass
}

// Server is the RPC-registered introspection endpoint over a
// memory.Global.
type Server struct {
	global *memory.Global
}

// NewServer wraps global for RPC registration.
func NewServer(global *memory.Global) (*Server, error) {
	server := &Server{global: global}
	if err := rpc.Register(server); err != nil {
		return nil, fmt.Errorf("allocsvc: register: %w", err)
	}
	return server, nil
}

// Serve accepts connections on address until Accept returns an error,
// handing each connection to net/rpc the same way the teacher's
// Server.Start does.
func (s *Server) Serve(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("allocsvc: listen %s: %w", address, err)
	}
	defer listener.Close()

	bootlog.Info("allocsvc: listening on %s", address)
	for {
		conn, err := listener.Accept()
		if err != nil {
			bootlog.Error("allocsvc: accept: %v", err)
			return err
		}
		go rpc.ServeConn(conn)
	}
}

// Stats reports the memory map's region sizes and frame count.
func (s *Server) Stats(req StatsRequest, resp *StatsResponse) error {
	mm := s.global.MemoryMap()
	*resp = StatsResponse{
		RamBytes:    mm.Ram.Size,
		KernelBytes: mm.Kernel.Size,
		FreeBytes:   mm.FreeMemory.Size,
		NumFrames:   mm.NumFrames,
		BuddyOrders: s.global.Orders(),
	}
	return nil
}

// DumpBitmap reports the buddy allocator's current free-list bitmap.
func (s *Server) DumpBitmap(req BitmapRequest, resp *BitmapResponse) error {
	*resp = BitmapResponse{
		Bitmap: s.global.Bitmap(),
		Orders: s.global.Orders(),
	}
	return nil
}

// DumpSizeClasses reports every configured slab size class.
func (s *Server) DumpSizeClasses(req SizeClassesRequest, resp *SizeClassesResponse) error {
	classes := s.global.SlabClasses()
	out := make([]SizeClass, len(classes))
	for i, c := range classes {
		out[i] = SizeClass{ObjectSize: c.ObjectSize(), SlotsPerSlab: c.SlotsPerSlab()}
	}
	resp.Classes = out
	return nil
}

// Client is a thin net/rpc client for Server, mirroring the teacher's
// rpc.Client wrapping shape.
type Client struct {
	rpcClient *rpc.Client
}

// Dial connects to an allocsvc Server at address.
func Dial(address string) (*Client, error) {
	c, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("allocsvc: dial %s: %w", address, err)
	}
	return &Client{rpcClient: c}, nil
}

// Stats calls Server.Stats.
func (c *Client) Stats() (StatsResponse, error) {
	var resp StatsResponse
	if err := c.rpcClient.Call("Server.Stats", StatsRequest{}, &resp); err != nil {
		return StatsResponse{}, fmt.Errorf("allocsvc: Stats: %w", err)
	}
	return resp, nil
}

// DumpBitmap calls Server.DumpBitmap.
func (c *Client) DumpBitmap() (BitmapResponse, error) {
	var resp BitmapResponse
	if err := c.rpcClient.Call("Server.DumpBitmap", BitmapRequest{}, &resp); err != nil {
		return BitmapResponse{}, fmt.Errorf("allocsvc: DumpBitmap: %w", err)
	}
	return resp, nil
}

// DumpSizeClasses calls Server.DumpSizeClasses.
func (c *Client) DumpSizeClasses() (SizeClassesResponse, error) {
	var resp SizeClassesResponse
	if err := c.rpcClient.Call("Server.DumpSizeClasses", SizeClassesRequest{}, &resp); err != nil {
		return SizeClassesResponse{}, fmt.Errorf("allocsvc: DumpSizeClasses: %w", err)
	}
	return resp, nil
}

// Close closes the client connection.
func (c *Client) Close() error { return c.rpcClient.Close() }
