package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/llm"
	"github.com/joseph-ayodele/permit-intake/internal/llm/openai"
	"github.com/joseph-ayodele/permit-intake/internal/mail"
	"github.com/joseph-ayodele/permit-intake/internal/normalize"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
	"github.com/joseph-ayodele/permit-intake/pkg/logger"
)

// permit-extract runs one extraction over an email body and prints the normalized document.
//
//	permit-extract [-eml] [-prompt] <file|->
func main() {
	eml := flag.Bool("eml", false, "input is a raw RFC 822 message rather than a plain body")
	promptOnly := flag.Bool("prompt", false, "print the rendered prompt and exit without calling the backend")
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

	if flag.NArg() != 1 {
		log.Error("usage: permit-extract [-eml] [-prompt] <file|->")
		os.Exit(2)
	}
	body, err := readBody(flag.Arg(0), *eml)
	if err != nil {
		log.Error("read input", "path", flag.Arg(0), "error", err)
		os.Exit(1)
	}

	if *promptOnly {
		fmt.Println(llm.RenderPrompt(llm.BuildPromptTemplate(schema.Current()), body))
		return
	}
	if cfg.LLM.APIKey == "" {
		log.Error("AZURE_OPENAI_API_KEY or OPENAI_API_KEY env var is required")
		os.Exit(2)
	}

	backend := openai.NewClient(openai.Config{
		APIKey:        cfg.LLM.APIKey,
		AzureEndpoint: cfg.LLM.Endpoint,
		APIVersion:    cfg.LLM.APIVersion,
		Model:         cfg.LLM.Deployment,
		Timeout:       cfg.LLM.Timeout,
	}, log)
	invoker := llm.NewInvoker(backend, schema.Current(), llm.InvokerConfig{Timeout: cfg.LLM.Timeout}, log)
	normalizer, err := normalize.New(schema.Current(), log)
	if err != nil {
		log.Error("init normalizer", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+10*time.Second)
	defer cancel()

	raw, err := invoker.Invoke(ctx, body)
	if err != nil {
		log.Error("extract", "code", common.CodeOf(err), "error", err)
		os.Exit(1)
	}
	res, err := normalizer.Normalize(raw, body)
	if err != nil {
		log.Error("normalize", "code", common.CodeOf(err), "error", err, "raw", raw)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Document *schema.Document `json:"document"`
		Report   normalize.Report `json:"report"`
	}{res.Document, res.Report}); err != nil {
		log.Error("encode", "error", err)
		os.Exit(1)
	}
}

func readBody(path string, eml bool) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}
	if eml {
		msg, err := mail.ParseMessage(r, 0)
		if err != nil {
			return "", err
		}
		return msg.Body, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
