package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/maltedev/offer-scraper/internal/models"
	"github.com/maltedev/offer-scraper/internal/scrape"
)

type scraper interface {
	Run(ctx context.Context, listingURL, filter string) *models.ScrapeResult
	ValidateListingURL(raw string) error
}

// runPrompt loops over listing URLs typed by the user until "exit", a "no"
// to the continue question, end of input or cancellation.
func runPrompt(ctx context.Context, in io.Reader, out io.Writer, s scraper) error {
	lines := bufio.NewScanner(in)
	ask := func(question string) (string, bool) {
		fmt.Fprint(out, question)
		if !lines.Scan() {
			return "", false
		}
		return strings.TrimSpace(lines.Text()), true
	}

	fmt.Fprintln(out, "=== FunPay offer scraper (RU/EN) ===")
	fmt.Fprintln(out)

	for ctx.Err() == nil {
		listingURL, ok := ask(`FunPay URL (or "exit"): `)
		if !ok || strings.EqualFold(listingURL, "exit") {
			break
		}
		if err := s.ValidateListingURL(listingURL); err != nil {
			fmt.Fprintln(out, "Invalid URL!")
			continue
		}

		filter, ok := ask("Category filter (or Enter for all): ")
		if !ok {
			break
		}

		printResult(out, s.Run(ctx, listingURL, filter))
		if ctx.Err() != nil {
			break
		}

		answer, ok := ask("\nContinue? (y/n): ")
		if !ok || !strings.EqualFold(answer, "y") {
			break
		}
	}

	fmt.Fprintln(out, "Bye!")
	return lines.Err()
}

func printResult(out io.Writer, result *models.ScrapeResult) {
	switch {
	case result.Success:
		fmt.Fprintf(out, "\nDone! %d offers (%d failed)\nSaved: %s\n", result.Count, result.FailedOffers, result.FilePath)
	case result.Error != nil && result.Error.Code == scrape.CodeNoOffersFound:
		fmt.Fprintln(out, "No offers found!")
		if len(result.AvailableCategories) > 0 {
			fmt.Fprintf(out, "Available: %s\n", strings.Join(result.AvailableCategories, ", "))
		}
	case result.Error != nil:
		fmt.Fprintf(out, "\nFailed [%s]: %s\n", result.Error.Code, result.Error.Message)
	default:
		fmt.Fprintln(out, "\nFailed")
	}
}
