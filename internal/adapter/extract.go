package adapter

import (
	"crypto/sha1"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"bbcompare/internal/domain"
)

// Extraction is site-agnostic on purpose: offer cards across UK ISPs differ
// in markup but all carry a speed, a monthly price in pounds and usually a
// contract term in the same card's text. Candidate cards are located
// structurally, then mined with regexes over their flattened text.

var (
	speedGbRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(?:g(?:ig)?a?(?:b(?:it)?(?:/s|ps)?)?|gigabit(?:/s|ps)?)\b`)
	speedMbRe = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*m(?:eg)?b(?:it)?(?:/s|ps)?\b`)

	priceRe   = regexp.MustCompile(`(?i)£\s*([0-9]+(?:\.[0-9]{2})?)\s*(?:/(?:m|month)|per\s*month|a\s*month|pm)?`)
	upfrontRe = regexp.MustCompile(`(?i)(?:upfront|activation|setup|set[-\s]*up)[^£]*£\s*([0-9]+(?:\.[0-9]{2})?)`)
	termRe    = regexp.MustCompile(`(?i)(\d{2})\s*month`)

	planHintsRe = regexp.MustCompile(`(?i)(Gigafast|Gigabit|Gig1|Full Fibre|Fibre|Essential|Advanced|Pro|Halo|Complete|Unlimited|M125|M250|Superfast|Ultrafast|G\.?fast|FTTP|FTTC|Fast|Faster|Fastest)`)

	speedTextRe = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*(?:g(?:ig)?b|m(?:eg)?b)(?:ps|/s)?\b`)
)

// cardSelector spells out the casings instead of the CSS attribute
// case-insensitivity flag, which browsers accept but cascadia may not.
const cardSelector = `[data-component*='product'], [data-component*='Product'], ` +
	`[data-component*='card'], [data-component*='Card'], ` +
	`[class*='card'], [class*='Card'], [class*='tile'], [class*='Tile'], ` +
	`[class*='product'], [class*='Product'], section, article, li`

const sampleLen = 240

// Phrasings providers use when a postcode is serviceable territory they do
// not reach, including address finders that come back empty. Checked only
// after extraction found nothing priced.
var unavailableMarkers = []string{
	"not available in your area",
	"not currently available in your area",
	"not available at your address",
	"isn't available at your address",
	"isn't available in your area",
	"can't get broadband at your address",
	"can't get you connected",
	"unable to provide broadband",
	"no broadband deals available at your address",
	"we don't cover your area",
	"not in your area yet",
	"we couldn't find your address",
	"we can't find your address",
	"couldn't find any addresses",
	"no addresses found",
	"no addresses match",
}

// ExtractOffers mines priced plans out of a results page. Speeds normalize
// to Mb/s with gigabit figures scaled by 1000; when a card mentions several
// speeds the highest wins. Cards without both a speed and a price are
// skipped, and nested card matches collapse to one offer per (speed, price).
func ExtractOffers(html string) []domain.Plan {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	type cardKey struct {
		speed   int
		price   float64
		upfront float64
		term    int
		name    string
	}
	seen := map[cardKey]bool{}

	var offers []domain.Plan
	doc.Find(cardSelector).Each(func(_ int, node *goquery.Selection) {
		text := strings.Join(strings.Fields(node.Text()), " ")
		if text == "" || !strings.Contains(text, "£") {
			return
		}
		low := strings.ToLower(text)
		if !strings.Contains(low, "mb") && !strings.Contains(low, "gb") {
			return
		}

		speed, speedStart, ok := parseSpeedMbps(text)
		if !ok {
			return
		}
		pm := priceRe.FindStringSubmatch(text)
		if pm == nil {
			return
		}
		price, err := strconv.ParseFloat(pm[1], 64)
		if err != nil {
			return
		}

		var upfront float64
		if um := upfrontRe.FindStringSubmatch(text); um != nil {
			upfront, _ = strconv.ParseFloat(um[1], 64)
		}
		var term int
		if tm := termRe.FindStringSubmatch(text); tm != nil {
			term, _ = strconv.Atoi(tm[1])
		}

		name := planName(text, speedStart)

		key := cardKey{speed: speed, price: price, upfront: upfront, term: term, name: name}
		if seen[key] {
			return
		}
		seen[key] = true

		offers = append(offers, domain.Plan{
			Name:           name,
			DownloadMbps:   speed,
			MonthlyPrice:   price,
			UpfrontFee:     upfront,
			ContractMonths: term,
			SampleText:     sample(text),
		})
	})

	type planKey struct {
		speed int
		price float64
	}
	uniq := map[planKey]bool{}
	out := offers[:0]
	for _, o := range offers {
		k := planKey{o.DownloadMbps, o.MonthlyPrice}
		if uniq[k] {
			continue
		}
		uniq[k] = true
		out = append(out, o)
	}
	return out
}

// Unavailable reports whether the page says the service cannot be had at
// this address.
func Unavailable(html string) bool {
	low := strings.ReplaceAll(strings.ToLower(html), "’", "'")
	for _, marker := range unavailableMarkers {
		if strings.Contains(low, marker) {
			return true
		}
	}
	return false
}

// HasSpeedText reports whether text mentions a broadband speed, which the
// flow treats as a sign the results page has rendered.
func HasSpeedText(text string) bool {
	return speedTextRe.MatchString(text)
}

// parseSpeedMbps finds the best speed mention in text. Returns the speed in
// Mb/s, the byte offset where its mention starts, and whether one was found.
func parseSpeedMbps(text string) (int, int, bool) {
	type candidate struct {
		mbps  float64
		start int
	}
	var cands []candidate
	for _, m := range speedGbRe.FindAllStringSubmatchIndex(text, -1) {
		v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{mbps: v * 1000, start: m[0]})
	}
	for _, m := range speedMbRe.FindAllStringSubmatchIndex(text, -1) {
		v, err := strconv.ParseFloat(text[m[2]:m[3]], 64)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{mbps: v, start: m[0]})
	}
	if len(cands) == 0 {
		return 0, 0, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].mbps != cands[j].mbps {
			return cands[i].mbps > cands[j].mbps
		}
		return cands[i].start < cands[j].start
	})
	return int(math.Round(cands[0].mbps)), cands[0].start, true
}

// planName guesses a display name: a window around a known plan-family word
// when one appears, otherwise the few words leading up to the speed.
func planName(text string, speedStart int) string {
	if m := planHintsRe.FindStringIndex(text); m != nil {
		start := m[0] - 25
		if start < 0 {
			start = 0
		}
		end := m[1] + 50
		if end > len(text) {
			end = len(text)
		}
		// window bounds are byte offsets and may split a rune
		name := strings.Join(strings.Fields(strings.ToValidUTF8(text[start:end], "")), " ")
		if runes := []rune(name); len(runes) > 80 {
			name = string(runes[:80])
		}
		return name
	}
	if speedStart > len(text) {
		speedStart = len(text)
	}
	pre := strings.Fields(text[:speedStart])
	if len(pre) == 0 {
		return ""
	}
	if len(pre) > 6 {
		pre = pre[len(pre)-6:]
	}
	return strings.Join(pre, " ")
}

func sample(text string) string {
	runes := []rune(text)
	if len(runes) <= sampleLen {
		return text
	}
	return string(runes[:sampleLen]) + "…"
}

// planID derives a short stable identifier for one offer row.
func planID(provider, name string, speed int, price float64, sourceURL string) string {
	raw := fmt.Sprintf("%s|%s|%d|%g|%s", provider, name, speed, price, sourceURL)
	sum := sha1.Sum([]byte(raw))
	return fmt.Sprintf("%x", sum)[:12]
}
