package main

import (
	"fmt"
	"io"
	"os"

	"TradeLedger/internal/config"
	"TradeLedger/internal/ingestion"
	"TradeLedger/internal/instruction"
	"TradeLedger/internal/observability"
	"TradeLedger/internal/query"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func newVerifyCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recover the stored state and check it against the ledger invariants and the block journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			n, err := openNode(cfg)
			if err != nil {
				return err
			}
			defer n.Close()
			if _, _, err := n.recover(cmd.Context()); err != nil {
				return err
			}
			report, err := query.NewService(n.engine, n.recovery, nil, nil).VerifyIntegrity(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.IsHealthy {
				return fmt.Errorf("state at height %d failed verification", report.Height)
			}
			return nil
		},
	}
}

func newPublishCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "publish FILE...",
		Short: "Validate block documents and publish them to the block stream in order",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			blocks := make([]*instruction.Block, 0, len(args))
			for _, path := range args {
				b, err := readBlock(path)
				if err != nil {
					return err
				}
				blocks = append(blocks, b)
			}

			logger := observability.NewLoggerTo(os.Stderr, "publish", observability.ParseLevel(cfg.LogLevel))
			nc, js, err := ingestion.ConnectNATS(cfg.NATS.URL, logger)
			if err != nil {
				return err
			}
			defer nc.Close()
			if err := ingestion.EnsureStreams(cmd.Context(), js, cfg.NATS.Streams); err != nil {
				return err
			}
			pub := ingestion.NewBlockPublisher(js, cfg.NATS.Streams.BlockSubject)
			for _, b := range blocks {
				if err := pub.Publish(cmd.Context(), b); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "published block %d %s (%d instructions)\n", b.Height, b.Hash, len(b.Instructions))
			}
			return nil
		},
	}
}

type decodedInstruction struct {
	Index    int    `json:"index"`
	TxID     string `json:"txid"`
	Kind     string `json:"kind"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver,omitempty"`
}

type decodedBlock struct {
	Height       int64                `json:"height"`
	Hash         string               `json:"hash"`
	PrevHash     string               `json:"prev_hash"`
	Instructions []decodedInstruction `json:"instructions"`
}

func newDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode FILE",
		Short: "Decode a block document and list its instructions; - reads stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := readBlock(args[0])
			if err != nil {
				return err
			}
			out := decodedBlock{Height: b.Height, Hash: b.Hash, PrevHash: b.PrevHash}
			for _, ins := range b.Instructions {
				h := ins.Head()
				out.Instructions = append(out.Instructions, decodedInstruction{
					Index:    h.Index,
					TxID:     h.TxID,
					Kind:     ins.Kind().String(),
					Sender:   h.Sender,
					Receiver: h.Receiver,
				})
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func readBlock(path string) (*instruction.Block, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	b, err := ingestion.DecodeBlock(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return b, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
