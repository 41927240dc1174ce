package exchange

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hivebot/hive/internal/domain"
)

func TestCheckHTTPStatusTaxonomy(t *testing.T) {
	require.NoError(t, checkHTTPStatus(200, nil))
	require.NoError(t, checkHTTPStatus(201, nil))

	require.ErrorIs(t, checkHTTPStatus(404, []byte("gone")), domain.ErrNotFound)
	require.ErrorIs(t, checkHTTPStatus(401, nil), domain.ErrUnauthorized)
	require.ErrorIs(t, checkHTTPStatus(403, nil), domain.ErrUnauthorized)
	require.ErrorIs(t, checkHTTPStatus(429, nil), domain.ErrRateLimited)

	var ve *VenueError
	require.ErrorAs(t, checkHTTPStatus(503, []byte("down")), &ve)
	require.Equal(t, domain.KindVenueTransient, ve.ErrorKind())
	require.True(t, ve.ErrorKind().Retriable())

	require.ErrorAs(t, checkHTTPStatus(422, []byte("bad tick")), &ve)
	require.Equal(t, domain.KindVenueRejected, ve.ErrorKind())
	require.False(t, ve.ErrorKind().Retriable())
}

func TestNonceSourceMonotonic(t *testing.T) {
	n := newNonceSource()
	prev := n.next()
	for i := 0; i < 1000; i++ {
		cur := n.next()
		require.Greater(t, cur, prev)
		prev = cur
	}
}

func TestOrderTypeCodes(t *testing.T) {
	require.Equal(t, 0, orderTypeCode(domain.OrderGTC))
	require.Equal(t, 1, orderTypeCode(domain.OrderGTD))
	require.Equal(t, 2, orderTypeCode(domain.OrderFOK))
	require.Equal(t, 3, orderTypeCode(domain.OrderFAK))
	require.Equal(t, 0, orderTypeCode(domain.OrderType("unknown")))
}

func TestFormatFixed(t *testing.T) {
	require.Equal(t, "3000", formatFixed(3000))
	require.Equal(t, "0.001", formatFixed(0.001))
}
