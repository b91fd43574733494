package sqldb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	pg := &DB{dialect: Postgres}
	lite := &DB{dialect: SQLite}
	q := `SELECT * FROM plans WHERE id = ? AND phone_digits LIKE ?`

	assert.Equal(t, `SELECT * FROM plans WHERE id = $1 AND phone_digits LIKE $2`, pg.rebind(q))
	assert.Equal(t, q, lite.rebind(q))
}

func TestTimeColumnsSortChronologically(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := formatTime(base)
	b := formatTime(base.Add(100 * time.Millisecond))
	assert.Less(t, a, b)
	assert.True(t, parseTime(b).Equal(base.Add(100*time.Millisecond)))
	assert.True(t, parseTime("garbage").IsZero())
}
