package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/export"
	"github.com/joseph-ayodele/permit-intake/internal/repository"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
	"github.com/joseph-ayodele/permit-intake/pkg/logger"
)

// permit-export writes stored extractions to an XLSX workbook.
//
//	permit-export -id <uuid> -out file.xlsx
//	permit-export [-from YYYY-MM-DD] [-to YYYY-MM-DD] -out file.xlsx
func main() {
	id := flag.String("id", "", "extraction id")
	from := flag.String("from", "", "first creation date, YYYY-MM-DD")
	to := flag.String("to", "", "last creation date, YYYY-MM-DD")
	out := flag.String("out", "permits.xlsx", "output path")
	flag.Parse()

	cfg, err := common.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Format: "console"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	log := lg.Logger
	if err := cfg.ValidateStore(); err != nil {
		log.Error("config.invalid", "error", err)
		os.Exit(2)
	}

	fromPtr, err := parseDate(*from)
	if err != nil {
		log.Error("from must be YYYY-MM-DD", "value", *from)
		os.Exit(2)
	}
	toPtr, err := parseDate(*to)
	if err != nil {
		log.Error("to must be YYYY-MM-DD", "value", *to)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := repository.Open(ctx, repository.Config{
		URL:         cfg.Database.URL,
		Schema:      cfg.Database.Name,
		Table:       cfg.Database.Collection,
		MaxConns:    2,
		DialTimeout: cfg.Database.DialTimeout,
	}, log)
	if err != nil {
		log.Error("open db", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	svc := export.NewService(repository.NewExtractionRepository(db, log), schema.Current(), log)

	var xlsx []byte
	if s := strings.TrimSpace(*id); s != "" {
		eid, perr := uuid.Parse(s)
		if perr != nil {
			log.Error("id must be a UUID", "value", s)
			os.Exit(2)
		}
		xlsx, err = svc.ExtractionXLSX(ctx, eid)
	} else {
		xlsx, err = svc.RangeXLSX(ctx, fromPtr, toPtr)
	}
	if err != nil {
		log.Error("export.xlsx.failed", "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		log.Error("write output", "path", *out, "error", err)
		os.Exit(1)
	}
	log.Info("export.written", "path", *out, "bytes", len(xlsx))
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
