package scheduler

// Package scheduler runs the daily maintenance jobs for the options
// scraper backend:
// - Flipping contracts past their expiration date to expired
// - Pruning scraper run history beyond the retention window
//
// Scrape runs themselves are owned by services.ScrapeScheduler; the
// jobs here only keep the collected data tidy. The main scheduler is
// implemented in jobs.go
