package repo

import (
	"fmt"
	"strings"

	"github.com/cloudonlanapps/cl-server-compute/internal/domain"
)

// Ordering — политика выбора следующего job среди подходящих.
type Ordering string

const (
	// OrderOldestFirst — раньше созданный job первым, при равенстве меньший ID.
	OrderOldestFirst Ordering = "oldest_first"

	// OrderPriority — больший Priority первым, далее как OrderOldestFirst.
	OrderPriority Ordering = "priority"
)

// ParseOrdering разбирает значение из конфигурации. Пустая строка — OrderOldestFirst.
func ParseOrdering(s string) (Ordering, error) {
	switch o := Ordering(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return OrderOldestFirst, nil
	case OrderOldestFirst, OrderPriority:
		return o, nil
	default:
		return "", fmt.Errorf("unknown ordering %q", s)
	}
}

// Less сообщает, должен ли a быть захвачен раньше b.
func (o Ordering) Less(a, b *domain.Job) bool {
	if o == OrderPriority && a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

// orderBy возвращает SQL ORDER BY для выборки кандидатов.
func (o Ordering) orderBy() string {
	if o == OrderPriority {
		return "priority DESC, created_at ASC, id ASC"
	}
	return "created_at ASC, id ASC"
}

// claimSources возвращает статусы, из которых допустим переход в next.
func claimSources(next domain.JobStatus) []domain.JobStatus {
	var out []domain.JobStatus
	for _, s := range []domain.JobStatus{domain.JobStatusClaimed, domain.JobStatusRunning} {
		if s.CanTransitionTo(next) {
			out = append(out, s)
		}
	}
	return out
}
