package market

import (
	"time"

	"github.com/alanyoungcy/crowdsignal/internal/domain"
)

// SystemClock reads the host wall clock.
var SystemClock domain.Clock = domain.ClockFunc(time.Now)
