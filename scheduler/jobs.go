package scheduler

import (
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"options_scraper_backend/services"
)

// Scheduler manages daily maintenance jobs: flipping contracts past
// their expiration date and pruning old run history. Scrape runs are
// owned by the scrape scheduler, not by this.
type Scheduler struct {
	cron          *gocron.Scheduler
	scraper       *services.StockScraper
	history       *services.RunHistoryService
	retentionDays int
}

// NewScheduler creates a maintenance scheduler in the given timezone
func NewScheduler(scraper *services.StockScraper, history *services.RunHistoryService, loc *time.Location, retentionDays int) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &Scheduler{
		cron:          gocron.NewScheduler(loc),
		scraper:       scraper,
		history:       history,
		retentionDays: retentionDays,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting maintenance scheduler...")

	// Mark expired contracts daily at 05:00, well before the open
	s.cron.Every(1).Day().At("05:00").Do(func() {
		s.markExpiredContracts()
	})

	// Prune run history past the retention window daily at 05:00
	s.cron.Every(1).Day().At("05:00").Do(func() {
		s.pruneRunHistory()
	})

	s.cron.StartAsync()
	log.Println("Maintenance scheduler started successfully")
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Maintenance scheduler stopped")
}

// markExpiredContracts flips active contracts past their expiration
func (s *Scheduler) markExpiredContracts() {
	log.Println("Marking expired contracts...")

	count, err := s.scraper.MarkExpiredContracts()
	if err != nil {
		log.Printf("Error marking expired contracts: %v", err)
		return
	}

	log.Printf("Expired contract marker completed: %d contracts marked", count)
}

// pruneRunHistory deletes runs older than the retention window
func (s *Scheduler) pruneRunHistory() {
	log.Println("Pruning old run history...")

	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)
	count, err := s.history.PruneRuns(cutoff)
	if err != nil {
		log.Printf("Error pruning run history: %v", err)
		return
	}

	log.Printf("Pruned %d scraper runs older than %d days", count, s.retentionDays)
}
