package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jacksonlevine/pictosend/client"
	"github.com/jacksonlevine/pictosend/common/types"
)

type sendOptions struct {
	addr     string
	producer string
	image    string
	timeout  time.Duration
	catchUp  bool
}

func sendCommand() *cobra.Command {
	opts := sendOptions{}
	c := &cobra.Command{
		Use:   "send",
		Short: "send a canvas to a running server",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			rec, err := opts.record(time.Now())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context(), opts.timeout)
			defer cancel()
			return send(ctx, c, opts, rec)
		},
	}
	c.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:6969", "server address")
	c.Flags().StringVar(&opts.producer, "producer", "pictosend", "producer name sent with the canvas")
	c.Flags().StringVar(&opts.image, "image", "", "png to send, a blank canvas if empty")
	c.Flags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "timeout for the whole exchange")
	c.Flags().BoolVar(&opts.catchUp, "catch-up", false, "print the server history size before sending")
	return c
}

func (o *sendOptions) record(now time.Time) (*types.UpdateRecord, error) {
	rec := &types.UpdateRecord{
		Producer:  types.NewProducerName(o.producer),
		Timestamp: types.TimestampFromTime(now),
	}
	if o.image == "" {
		return rec, nil
	}
	f, err := os.Open(o.image)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	pixels, err := decodeCanvas(f)
	if err != nil {
		return nil, err
	}
	rec.Pixels = *pixels
	return rec, nil
}

func send(ctx context.Context, c *cobra.Command, opts sendOptions, rec *types.UpdateRecord) error {
	conn, err := client.Dial(ctx, opts.addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	if opts.catchUp {
		records, err := conn.CatchUp(ctx)
		if err != nil {
			return fmt.Errorf("catch up: %w", err)
		}
		fmt.Fprintf(c.OutOrStdout(), "history = %d\n", len(records))
	}
	if err := conn.Send(ctx, rec); err != nil {
		return err
	}
	fmt.Fprintf(c.OutOrStdout(), "sent %s at %s\n", rec.Producer, rec.Timestamp)
	return nil
}
