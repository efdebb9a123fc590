package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/tangramfs/tangramfs/pkg/addr"
	"github.com/tangramfs/tangramfs/pkg/persistedconfig"
	"github.com/tangramfs/tangramfs/pkg/rpc"
	"github.com/tangramfs/tangramfs/pkg/transport/tcp"
	"github.com/tangramfs/tangramfs/pkg/wire"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the job size and address of the metadata/lock server",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	serverAddr, err := resolveServerAddr()
	if err != nil {
		return fmt.Errorf("resolve server address: %w", err)
	}
	fmt.Printf("server: %s\n", serverAddr.String())

	self := addr.New([]byte("tangramfsctl"), nil)
	t, err := tcp.New(self, "0.0.0.0:0")
	if err != nil {
		return fmt.Errorf("bind client transport: %w", err)
	}
	defer t.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ep, err := t.CreateEndpoint(ctx, serverAddr.Interface, serverAddr)
	if err != nil {
		return fmt.Errorf("connect to server: %w", err)
	}

	c := rpc.NewClient(t)
	c.RegisterResponseKinds(wire.MPISize)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
				_ = t.Progress(ctx, 0)
				time.Sleep(time.Millisecond)
			}
		}
	}()

	size, err := rpc.MPISizeStub(ctx, c, ep)
	if err != nil {
		return fmt.Errorf("query job size: %w", err)
	}
	fmt.Printf("job size: %d rank(s)\n", size)
	return nil
}

func resolveServerAddr() (addr.Address, error) {
	if Flags.UseLocalServer {
		hostname := Flags.Hostname
		if hostname == "" {
			h, err := os.Hostname()
			if err != nil {
				return addr.Address{}, err
			}
			hostname = h
		}
		return persistedconfig.ReadServerAddr(filepath.Join(Flags.BufferDir, persistedconfig.NodeConfigName(hostname)))
	}
	return persistedconfig.ReadServerAddr(filepath.Join(Flags.PersistDir, persistedconfig.GlobalConfigName))
}
