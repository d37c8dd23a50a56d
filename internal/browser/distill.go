package browser

import (
	"net/url"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// DefaultMaxContentChars is applied when no config override is supplied.
const DefaultMaxContentChars = 20000

// excludedTags are stripped from the document before any text or heading
// extraction, per the adapter contract.
var excludedTags = []string{"script", "style", "svg", "noscript", "iframe", "canvas"}

// containerSelectors are tried in order; the first with a match wins.
var containerSelectors = []string{"main", "article", `[role="main"]`, "#content", "#main", ".content"}

// blockedPattern matches the page-blocked phrases the adapter must detect.
var blockedPattern = regexp.MustCompile(`(?i)captcha|verify you are human|access denied|unusual traffic|temporarily unavailable|robot check`)

const (
	maxHeadings   = 20
	maxListItems  = 40
	maxTables     = 3
	maxTableRows  = 10
	descriptionCap = 200
)

// Distill parses html and builds the structured ScrapeResult text form
// described in the browser adapter contract, capped at maxChars. pageURL is
// used only as the base for readability's fallback title/description pass.
func Distill(html, pageURL string, maxChars int) *Result {
	if maxChars <= 0 {
		maxChars = DefaultMaxContentChars
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return &Result{Blocked: blockedPattern.MatchString(html)}
	}
	doc.Find(strings.Join(excludedTags, ",")).Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	description, _ := doc.Find(`meta[name="description"]`).Attr("content")
	description = strings.TrimSpace(description)

	container := selectContainer(doc)
	if title == "" {
		title = strings.TrimSpace(container.Find("h1").First().Text())
	}

	mainText := renderMainText(container)
	if description == "" {
		description = fallbackDescription(mainText)
	}

	if title == "" || description == "" {
		if article, ok := readabilityFallback(html, pageURL); ok {
			if title == "" {
				title = strings.TrimSpace(article.Title)
			}
			if description == "" {
				description = strings.TrimSpace(article.Excerpt)
			}
		}
	}

	blocked := blockedPattern.MatchString(mainText) || blockedPattern.MatchString(title)

	var b strings.Builder
	if title != "" {
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	if description != "" {
		b.WriteString(description)
		b.WriteString("\n\n")
	}
	writeHeadings(&b, container)
	writeListItems(&b, container)
	writeTables(&b, container)
	b.WriteString(mainText)

	content := b.String()
	if len(content) > maxChars {
		content = content[:maxChars]
	}

	return &Result{
		Content:     content,
		Title:       title,
		Description: description,
		Blocked:     blocked,
	}
}

func selectContainer(doc *goquery.Document) *goquery.Selection {
	for _, sel := range containerSelectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Find("body")
}

// renderMainText converts the container's HTML to markdown for the raw main
// text portion, falling back to plain text extraction if conversion fails
// or yields nothing.
func renderMainText(container *goquery.Selection) string {
	containerHTML, err := container.Html()
	if err == nil {
		if md, mdErr := htmltomarkdown.ConvertString(containerHTML); mdErr == nil {
			if text := strings.TrimSpace(md); text != "" {
				return text
			}
		}
	}
	return strings.TrimSpace(container.Text())
}

func readabilityFallback(html, pageURL string) (readability.Article, bool) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return readability.Article{}, false
	}
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err != nil {
		return readability.Article{}, false
	}
	return article, true
}

func writeHeadings(b *strings.Builder, container *goquery.Selection) {
	n := 0
	container.Find("h1,h2,h3,h4,h5,h6").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n >= maxHeadings {
			return false
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		b.WriteString("## ")
		b.WriteString(text)
		b.WriteString("\n")
		n++
		return true
	})
	if n > 0 {
		b.WriteString("\n")
	}
}

func writeListItems(b *strings.Builder, container *goquery.Selection) {
	n := 0
	container.Find("li").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if n >= maxListItems {
			return false
		}
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return true
		}
		b.WriteString("- ")
		b.WriteString(text)
		b.WriteString("\n")
		n++
		return true
	})
	if n > 0 {
		b.WriteString("\n")
	}
}

func writeTables(b *strings.Builder, container *goquery.Selection) {
	tables := 0
	container.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		if tables >= maxTables {
			return false
		}
		rows := 0
		table.Find("tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
			if rows >= maxTableRows {
				return false
			}
			var cells []string
			row.Find("td,th").Each(func(_ int, cell *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(cell.Text()))
			})
			if len(cells) == 0 {
				return true
			}
			b.WriteString(strings.Join(cells, " | "))
			b.WriteString("\n")
			rows++
			return true
		})
		if rows > 0 {
			b.WriteString("\n")
		}
		tables++
		return true
	})
}

func fallbackDescription(text string) string {
	if len(text) <= descriptionCap {
		return text
	}
	return text[:descriptionCap]
}
