package provider

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// googleLangMap fixes up codes where Google's BCP-47 form differs from the
// lowercase codes callers send. Unknown codes pass through lowercased.
var googleLangMap = map[string]string{
	"zh-tw": "zh-TW",
	"zh-cn": "zh-CN",
	"zh":    "zh-CN",
	"pt-br": "pt-BR",
}

// Google is the last-resort translation tier. It is the only tier with
// per-character billing, so it sits behind both DeepL and OpenAI.
type Google struct {
	credentialsFile string
	pricePerMillion float64

	initOnce sync.Once
	client   *translate.Client
	initErr  error
}

// NewGoogle creates a Google Cloud Translation client. credentialsFile may
// be empty, in which case Application Default Credentials are used.
func NewGoogle(credentialsFile string, pricePerMillionChars float64) *Google {
	return &Google{
		credentialsFile: credentialsFile,
		pricePerMillion: pricePerMillionChars,
	}
}

func (g *Google) Name() string { return NameGoogle }

func googleLang(lang string) (language.Tag, error) {
	code := strings.ToLower(lang)
	if mapped, ok := googleLangMap[code]; ok {
		code = mapped
	}
	tag, err := language.Parse(code)
	if err != nil {
		return language.Und, fmt.Errorf("google: invalid language %q: %w", lang, err)
	}
	return tag, nil
}

// init lazily builds the SDK client. Credential errors surface as
// ErrAuthFailure on the first Translate call.
func (g *Google) init(ctx context.Context) (*translate.Client, error) {
	g.initOnce.Do(func() {
		var opts []option.ClientOption
		if g.credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(g.credentialsFile))
		}
		client, err := translate.NewClient(ctx, opts...)
		if err != nil {
			g.initErr = fmt.Errorf("google: create client: %v: %w", err, ErrAuthFailure)
			return
		}
		g.client = client
	})
	return g.client, g.initErr
}

// Translate calls the Cloud Translation API. Cost is estimated at the
// configured price per million characters.
func (g *Google) Translate(ctx context.Context, text, sourceLang, targetLang string) (*Result, error) {
	client, err := g.init(ctx)
	if err != nil {
		return nil, err
	}

	target, err := googleLang(targetLang)
	if err != nil {
		return nil, err
	}

	var opts *translate.Options
	if sourceLang != "" && sourceLang != "auto" {
		source, err := googleLang(sourceLang)
		if err != nil {
			return nil, err
		}
		opts = &translate.Options{Source: source, Format: translate.Text}
	} else {
		opts = &translate.Options{Format: translate.Text}
	}

	translations, err := client.Translate(ctx, []string{text}, target, opts)
	if err != nil {
		return nil, googleCallError(err)
	}
	if len(translations) == 0 {
		return nil, fmt.Errorf("google: no translation returned")
	}

	chars := int64(utf8.RuneCountInString(text))
	return &Result{
		Text:      translations[0].Text,
		Provider:  NameGoogle,
		CharCount: chars,
		CostUSD:   float64(chars) / 1_000_000 * g.pricePerMillion,
	}, nil
}

func googleCallError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "credential") ||
		strings.Contains(msg, "unauthenticated"):
		return fmt.Errorf("google: %v: %w", err, ErrAuthFailure)
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource exhausted"):
		return fmt.Errorf("google: %v: %w", err, ErrQuotaExceeded)
	default:
		return fmt.Errorf("google: translate: %v: %w", err, ErrUnavailable)
	}
}

// Available reports whether the SDK client could be built. When credentials
// point at a file, this also implies the file exists and parses.
func (g *Google) Available(ctx context.Context) bool {
	_, err := g.init(ctx)
	return err == nil
}

// Close releases the underlying SDK client if one was created.
func (g *Google) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}
