package clipper

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"

	"meal-plan-service/internal/llm"
	"meal-plan-service/internal/mealplan"
	"meal-plan-service/internal/shared"
)

// AgentName identifies clipper calls in usage metrics.
const AgentName = "RecipeClipper"

// maxContentChars caps the page text sent to the model.
const maxContentChars = 12000

const extractionPrompt = `You are a recipe extraction expert. Extract the recipe from the web page text below.
Return the result strictly as a JSON object with this structure and no other text:
{
  "name": "Recipe name",
  "description": "One sentence description",
  "steps": ["Step 1 description", "Step 2 description"],
  "tags": ["tag1", "tag2"],
  "nutritional_info": {"calories": 450, "protein": 25, "fiber": 8}
}
Omit "nutritional_info" when the page does not state it.

Page text:
%s
`

// ErrBlockedAddress is returned when a URL resolves to an address the
// clipper refuses to fetch, such as loopback or a private network.
var ErrBlockedAddress = errors.New("address not allowed")

// maxRedirects caps how many redirects a page fetch follows.
const maxRedirects = 5

// cgnat is the carrier-grade NAT range, which net.IP.IsPrivate omits.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// Clipper handles fetching and extracting recipes from URLs.
type Clipper struct {
	textGen    llm.TextGenerator
	httpClient *http.Client
}

// Option configures a Clipper.
type Option func(*Clipper)

// WithHTTPClient replaces the page fetching client, which by default only
// connects to public addresses.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Clipper) { cl.httpClient = c }
}

// NewClipper creates a new Clipper instance.
func NewClipper(textGen llm.TextGenerator, opts ...Option) *Clipper {
	c := &Clipper{
		textGen:    textGen,
		httpClient: newPublicClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// newPublicClient checks every address after DNS resolution, so redirects
// and rebinding cannot reach internal hosts either.
func newPublicClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip, err := netip.ParseAddr(host)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
			}
			if blockedIP(ip) {
				return fmt.Errorf("%w: %s", ErrBlockedAddress, ip)
			}
			return nil
		},
	}
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			Proxy:                 nil,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: checkRedirect,
	}
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("%w: redirect to %s scheme", ErrBlockedAddress, req.URL.Scheme)
	}
	return nil
}

func blockedIP(ip netip.Addr) bool {
	ip = ip.Unmap()
	return !ip.IsValid() ||
		ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsInterfaceLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		cgnat.Contains(ip)
}

// ClipRecipe fetches the page at url and asks the model to turn it into a Recipe.
func (c *Clipper) ClipRecipe(ctx context.Context, url string) (*mealplan.Recipe, shared.AgentMeta, error) {
	meta := shared.AgentMeta{AgentName: AgentName, Attempt: 1}

	content, err := c.fetchAndCleanHTML(ctx, url)
	if err != nil {
		return nil, meta, fmt.Errorf("failed to fetch content: %w", err)
	}
	if content == "" {
		return nil, meta, fmt.Errorf("page %s has no readable content", url)
	}

	start := time.Now()
	resp, err := c.textGen.GenerateContent(ctx, llm.User(fmt.Sprintf(extractionPrompt, content)))
	if err != nil {
		return nil, meta, fmt.Errorf("ai extraction failed: %w", err)
	}
	meta.Usage = resp.Usage
	meta.Latency = time.Since(start)

	var rec mealplan.Recipe
	if err := llm.DecodeJSON(resp.Content, &rec); err != nil {
		return nil, meta, fmt.Errorf("failed to parse AI response: %w", err)
	}
	if rec.Tags == nil {
		rec.Tags = []string{}
	}
	if err := mealplan.Validate(rec); err != nil {
		return nil, meta, fmt.Errorf("extracted recipe is invalid: %w", err)
	}
	return &rec, meta, nil
}

func (c *Clipper) fetchAndCleanHTML(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", err
	}

	// Remove noise to save LLM tokens
	doc.Find("script, style, nav, footer, iframe, ads, .ads, #ads").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := strings.Join(strings.Fields(doc.Find("body").Text()), " ")
	if len(text) > maxContentChars {
		text = strings.ToValidUTF8(text[:maxContentChars], "")
	}
	return text, nil
}
