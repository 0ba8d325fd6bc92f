package infrastructure

import (
	"context"

	"cv-optimizer/pkg/htmltext"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromedpPageFetcher renders the job page in headless Chrome before
// reading it, for boards that build their content with JavaScript.
type ChromedpPageFetcher struct {
	ExecPath       string
	AcceptLanguage string
}

func NewChromedpPageFetcher(execPath string) *ChromedpPageFetcher {
	return &ChromedpPageFetcher{ExecPath: execPath, AcceptLanguage: "en-US,en;q=0.9"}
}

func (f *ChromedpPageFetcher) FetchText(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if f.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.ExecPath))
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	cctx, cancelCtx := chromedp.NewContext(allocCtx)
	defer cancelCtx()

	var body string
	err := chromedp.Run(cctx,
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Accept-Language": f.AcceptLanguage}),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("body", &body, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}
	return htmltext.FromString(body), nil
}
