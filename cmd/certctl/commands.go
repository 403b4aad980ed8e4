package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"CertVerify-Chain/internal/app"
	"CertVerify-Chain/internal/auth"
	"CertVerify-Chain/internal/events"
	"CertVerify-Chain/internal/proofs"
	"CertVerify-Chain/internal/tools"
)

func digestCommand() *cli.Command {
	return &cli.Command{
		Name:      "digest",
		Usage:     "print the content digest, scan digest and CID of a certificate file",
		ArgsUsage: "FILE",
		Action: func(c *cli.Context) error {
			if c.Args().Len() != 1 {
				return cli.Exit("usage: certctl digest FILE", 2)
			}
			data, err := os.ReadFile(c.Args().First())
			if err != nil {
				return err
			}
			return printDigest(c.App.Writer, data)
		},
	}
}

func printDigest(w io.Writer, data []byte) error {
	fp, err := proofs.Compute(data)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "certificateHash: %s\n", fp.ContentDigest)
	fmt.Fprintf(w, "scanHash:        %s\n", fp.ScanDigest)
	fmt.Fprintf(w, "cid:             %s\n", fp.CID)
	return nil
}

func certificateCommand() *cli.Command {
	return &cli.Command{
		Name:  "certificate",
		Usage: "read certificates from the contract",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "show one certificate by token id",
				ArgsUsage: "TOKEN_ID",
				Action: func(c *cli.Context) error {
					tokenID, ok := new(big.Int).SetString(strings.TrimSpace(c.Args().First()), 10)
					if !ok {
						return cli.Exit("usage: certctl certificate get TOKEN_ID", 2)
					}
					a, err := buildApp(c, app.WithoutLLM())
					if err != nil {
						return err
					}
					defer a.Close()
					return printCertificate(c.Context, c.App.Writer, a.Certificates, tokenID)
				},
			},
			{
				Name:      "list",
				Usage:     "list the certificate token ids held by a student",
				ArgsUsage: "STUDENT_ADDRESS",
				Action: func(c *cli.Context) error {
					raw := strings.TrimSpace(c.Args().First())
					if !common.IsHexAddress(raw) {
						return cli.Exit("usage: certctl certificate list STUDENT_ADDRESS", 2)
					}
					a, err := buildApp(c, app.WithoutLLM())
					if err != nil {
						return err
					}
					defer a.Close()
					return printStudentCertificates(c.Context, c.App.Writer, a.Certificates, common.HexToAddress(raw))
				},
			},
		},
	}
}

func printCertificate(ctx context.Context, w io.Writer, certs tools.Certificates, tokenID *big.Int) error {
	cert, err := certs.GetCertificate(ctx, tokenID)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "tokenId:    %s\n", tokenID)
	fmt.Fprintf(w, "ipfsHash:   %s\n", cert.IPFSHash)
	fmt.Fprintf(w, "university: %s\n", cert.University.Hex())
	fmt.Fprintf(w, "issued:     %s\n", cert.IssueDate.UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "valid:      %t\n", cert.IsValid)
	fmt.Fprintf(w, "verified:   %t\n", cert.IsVerified)
	return nil
}

func printStudentCertificates(ctx context.Context, w io.Writer, certs tools.Certificates, student common.Address) error {
	ids, err := certs.GetStudentCertificates(ctx, student)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintf(w, "%s holds no certificates\n", student.Hex())
		return nil
	}
	for _, id := range ids {
		fmt.Fprintln(w, id.String())
	}
	return nil
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "issue a bearer token for the HTTP service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "subject", Aliases: []string{"s"}, Usage: "token subject", Required: true},
			&cli.StringSliceFlag{Name: "perm", Aliases: []string{"p"}, Usage: "granted permission, repeatable (default: all)"},
			&cli.DurationFlag{Name: "ttl", Usage: "token lifetime (default: auth.jwt.access_ttl_seconds)"},
		},
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			svc, err := auth.NewService(app.AuthConfig(cfg.Auth))
			if err != nil {
				return err
			}
			perms := c.StringSlice("perm")
			if len(perms) == 0 {
				perms = auth.AllPermissions()
			}
			token, expires, err := svc.Issue(c.String("subject"), perms, c.Duration("ttl"))
			if errors.Is(err, auth.ErrDisabled) {
				return cli.Exit("auth.mode must be \"jwt\" to issue tokens", 1)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			fmt.Fprintf(c.App.ErrWriter, "expires at %s\n", expires.UTC().Format(time.RFC3339))
			return nil
		},
	}
}

func eventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "inspect the certificate transaction event queue",
		Subcommands: []*cli.Command{
			{
				Name:  "watch",
				Usage: "print mint events as JSON lines until interrupted",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "workers", Value: 1, Usage: "number of consumers"},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig(c)
					if err != nil {
						return err
					}
					driver := strings.ToLower(strings.TrimSpace(cfg.Events.Driver))
					if driver == "" || driver == "memory" {
						return cli.Exit("events.driver is memory; only redis or rabbitmq queues can be watched from another process", 1)
					}
					queue, err := events.Open(c.Context, cfg.Events)
					if err != nil {
						return err
					}
					defer queue.Close()
					return watchEvents(c.Context, queue, c.Int("workers"), c.App.Writer)
				},
			},
		},
	}
}

// watchEvents 以 JSON 行的形式输出事件，直到 ctx 结束。
func watchEvents(ctx context.Context, consumer events.Consumer, workers int, w io.Writer) error {
	var mu sync.Mutex
	err := consumer.Consume(ctx, workers, func(_ context.Context, event events.MintEvent) error {
		line, err := json.Marshal(event)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		_, err = fmt.Fprintln(w, string(line))
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
