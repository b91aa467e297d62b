package email

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/time/rate"

	"github.com/samstikhin/ulearn-notifier/pkg/logger"
)

type BulkConfig struct {
	AddressesFile string
	ContentFile   string
	// RatePerSecond limits outgoing messages; zero means no limit.
	RatePerSecond float64
	Tag           string
}

type BulkResult struct {
	Sent   int
	Failed []string
}

// BulkSender sends one message to a static list of addresses. It is the
// `send` maintenance mode of the binary and never touches deliveries.
type BulkSender struct {
	service Service
	config  BulkConfig
	limiter *rate.Limiter
	logger  *logger.Logger
}

func NewBulkSender(service Service, config BulkConfig, log *logger.Logger) *BulkSender {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}
	return &BulkSender{
		service: service,
		config:  config,
		limiter: limiter,
		logger:  log,
	}
}

// Run reads both files and sends the content to every address. Individual
// failures are collected, not returned.
func (b *BulkSender) Run(ctx context.Context) (BulkResult, error) {
	addresses, err := readFile(b.config.AddressesFile, ReadAddresses)
	if err != nil {
		return BulkResult{}, err
	}
	subject, body, err := readContentFile(b.config.ContentFile)
	if err != nil {
		return BulkResult{}, err
	}

	b.logger.Info("Sending one-time emails",
		"recipients", len(addresses),
		"subject", subject)
	return b.Send(ctx, addresses, subject, body)
}

func (b *BulkSender) Send(ctx context.Context, addresses []string, subject, body string) (BulkResult, error) {
	var result BulkResult
	for _, address := range addresses {
		if err := b.limiter.Wait(ctx); err != nil {
			return result, err
		}
		err := b.service.Send(ctx, Message{
			To:       address,
			Subject:  subject,
			HTMLBody: body,
			Tag:      b.config.Tag,
		})
		if err != nil {
			b.logger.WarnErr(err, "Can't send email", "to", address)
			result.Failed = append(result.Failed, address)
			continue
		}
		result.Sent++
	}

	b.logger.Info("One-time emails sent",
		"sent", result.Sent,
		"failed", len(result.Failed))
	return result, nil
}

// ReadAddresses returns one address per line, skipping blank lines and
// lines starting with #.
func ReadAddresses(r io.Reader) ([]string, error) {
	var out []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadContent splits content into the subject (first line) and the HTML body.
func ReadContent(r io.Reader) (string, string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", "", err
	}
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	subject, body, _ := strings.Cut(text, "\n")
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", "", fmt.Errorf("%w: content has no subject line", ErrInvalidMessage)
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return "", "", fmt.Errorf("%w: content has no body", ErrInvalidMessage)
	}
	return subject, body, nil
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	v, err := parse(f)
	if err != nil {
		return zero, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return v, nil
}

func readContentFile(path string) (string, string, error) {
	type content struct{ subject, body string }
	c, err := readFile(path, func(r io.Reader) (content, error) {
		s, b, err := ReadContent(r)
		return content{s, b}, err
	})
	return c.subject, c.body, err
}
