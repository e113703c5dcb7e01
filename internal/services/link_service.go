package services

import (
	"context"

	"chart-warehouse/internal/models"
	"chart-warehouse/internal/repository"
	"chart-warehouse/pkg/logging"
	"chart-warehouse/pkg/metrics"
)

// LinkResult counts the outcome of one linking pass
type LinkResult struct {
	WeatherLinked   int
	WeatherUnlinked int
	HolidayLinked   int
	HolidayUnlinked int
}

// LinkService backfills the weather and holiday keys on facts that were
// loaded before their dimension rows existed. Updates are committed in
// bounded batches so a large backlog cannot grow one giant transaction.
// A fact whose date still has no dimension row is left alone and picked
// up by the next run.
type LinkService struct {
	repo    repository.WarehouseRepository
	logger  *logging.StructuredLogger
	metrics *metrics.Collector
}

// NewLinkService creates a new fact linking service
func NewLinkService(repo repository.WarehouseRepository, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *LinkService {
	return &LinkService{
		repo:    repo,
		logger:  logger,
		metrics: metricsCollector,
	}
}

// LinkFacts backfills both dimension keys, committing every commitEvery
// updates
func (s *LinkService) LinkFacts(ctx context.Context, commitEvery int) (*LinkResult, error) {
	if commitEvery <= 0 {
		commitEvery = 5000
	}

	weatherLookup, err := s.repo.WeatherIDMap(ctx)
	if err != nil {
		return nil, err
	}
	holidayLookup, err := s.repo.HolidayIDMap(ctx)
	if err != nil {
		return nil, err
	}

	result := &LinkResult{}

	result.WeatherLinked, result.WeatherUnlinked, err = s.linkDimension(
		ctx, "weather", weatherLookup, s.repo.FactsMissingWeather, s.repo.LinkFactsWeather, commitEvery)
	if err != nil {
		return result, err
	}

	result.HolidayLinked, result.HolidayUnlinked, err = s.linkDimension(
		ctx, "holiday", holidayLookup, s.repo.FactsMissingHoliday, s.repo.LinkFactsHoliday, commitEvery)
	if err != nil {
		return result, err
	}

	s.logger.Info(ctx, "[LINK_COMPLETE] Fact linking finished", logging.Fields{
		"weather_linked":   result.WeatherLinked,
		"weather_unlinked": result.WeatherUnlinked,
		"holiday_linked":   result.HolidayLinked,
		"holiday_unlinked": result.HolidayUnlinked,
	})

	return result, nil
}

// linkDimension pages through unlinked facts by fact ID and assigns the
// dimension key found for the fact's date. Paging by key means facts that
// stay unlinkable cannot make the pass loop forever.
func (s *LinkService) linkDimension(
	ctx context.Context,
	name string,
	lookup map[int64]int64,
	page func(context.Context, int64, int) ([]*models.ChartFact, error),
	apply func(context.Context, []repository.FactLink) (int, error),
	commitEvery int,
) (int, int, error) {
	linked := 0
	unlinked := 0
	after := int64(0)
	pending := make([]repository.FactLink, 0, commitEvery)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		n, err := apply(ctx, pending)
		if err != nil {
			return err
		}
		linked += n
		s.logger.Debug(ctx, "[LINK_BATCH] Link batch committed", logging.Fields{
			"dimension": name,
			"linked":    n,
		})
		pending = pending[:0]
		return nil
	}

	for {
		facts, err := page(ctx, after, commitEvery)
		if err != nil {
			return linked, unlinked, err
		}
		if len(facts) == 0 {
			break
		}

		for _, fact := range facts {
			after = fact.FactID

			target, ok := lookup[fact.DateID]
			if !ok {
				unlinked++
				continue
			}

			pending = append(pending, repository.FactLink{FactID: fact.FactID, TargetID: target})
			if len(pending) >= commitEvery {
				if err := flush(); err != nil {
					return linked, unlinked, err
				}
			}
		}

		if len(facts) < commitEvery {
			break
		}
	}

	if err := flush(); err != nil {
		return linked, unlinked, err
	}

	return linked, unlinked, nil
}
