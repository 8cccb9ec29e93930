package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/areawatch/areawatch/pkg/ingest"
	"github.com/areawatch/areawatch/pkg/types"
	"github.com/areawatch/areawatch/server/internal/detections"
)

var (
	replayLog    string
	replayServer string
	replayBatch  int
	replayKeyEnv string
)

// replayCmd sends a CSV log to a server over gRPC.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Send the rows of a detection log to a server over gRPC",
	Long: `Replay reads a detection CSV log and sends its rows, oldest first, to a
server's ingest service in batches. Malformed rows are skipped and counted.

When the server runs with auth.mode apikey, put the key in the environment
variable named by --api-key-env.`,
	Example: `  areactl replay --log backup/detection_log.csv --server 10.0.0.2:50051 --batch 200`,
	RunE:    runReplay,
}

func init() {
	replayCmd.Flags().StringVar(&replayLog, "log", "", "detection log to replay (required)")
	replayCmd.Flags().StringVar(&replayServer, "server", "localhost:50051", "server gRPC address")
	replayCmd.Flags().IntVar(&replayBatch, "batch", 100, "rows per RecordDetections call")
	replayCmd.Flags().StringVar(&replayKeyEnv, "api-key-env", "AREAWATCH_API_KEY", "environment variable holding the API key")
	_ = replayCmd.MarkFlagRequired("log")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayBatch <= 0 {
		return fmt.Errorf("--batch must be positive, got %d", replayBatch)
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := detections.Open(replayLog, cfg.Server.Data.Location())
	if err != nil {
		return err
	}
	snap, err := log.ReadAll()
	if err != nil {
		return err
	}
	if snap.Skipped > 0 {
		slog.Warn("replay: malformed rows skipped", "count", snap.Skipped)
	}

	conn, err := grpc.Dial(replayServer, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", replayServer, err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if key := os.Getenv(replayKeyEnv); key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, cfg.Server.Auth.EffectiveHeader(), key)
	}

	sent, err := replay(ctx, ingest.NewClient(conn), snap.Rows, replayBatch)
	fmt.Fprintf(cmd.OutOrStdout(), "replayed %d of %d rows to %s (%d skipped)\n",
		sent, len(snap.Rows), replayServer, snap.Skipped)
	return err
}

// recorder is the part of *ingest.Client replay uses.
type recorder interface {
	RecordDetections(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error)
}

// replay sends rows in batches of size. A reader goroutine cuts batches while
// the sender ships them; the first failure stops both. It returns the number
// of rows the server accepted.
func replay(ctx context.Context, client recorder, rows []types.Detection, size int) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	batches := make(chan []types.Detection, 4)

	g.Go(func() error {
		defer close(batches)
		for start := 0; start < len(rows); start += size {
			end := min(start+size, len(rows))
			select {
			case batches <- rows[start:end]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	sent := 0
	g.Go(func() error {
		for batch := range batches {
			req, err := ingest.EncodeDetections(batch)
			if err != nil {
				return err
			}
			resp, err := client.RecordDetections(gctx, req)
			if err != nil {
				return fmt.Errorf("record batch at row %d: %w", sent, err)
			}
			sent += ingest.Accepted(resp)
			slog.Debug("replay: batch sent", "rows", len(batch), "total", sent)
		}
		return nil
	})

	err := g.Wait()
	return sent, err
}
