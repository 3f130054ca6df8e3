package service

import (
	authdomain "github.com/AlibekovAA/refresh-guard/internal/auth/domain"
	"github.com/AlibekovAA/refresh-guard/internal/observability/metrics"
)

func incrementTokenPairIssued() {
	metrics.AccessTokensIssued.Inc()
	metrics.RefreshTokensIssued.Inc()
}

func incrementRefreshTokensRotated() {
	metrics.RefreshTokensRotated.Inc()
}

func incrementRefreshTokensRevoked(n int) {
	metrics.RefreshTokensRevoked.Add(float64(n))
}

func incrementRefreshTokensExpired() {
	metrics.RefreshTokensExpired.Inc()
}

func incrementReuseDetected() {
	metrics.RefreshTokenReuseDetected.Inc()
}

func incrementLoginAttempt(result string) {
	metrics.LoginAttemptsTotal.WithLabelValues(result).Inc()
}

func incrementLogout(outcome string) {
	metrics.LogoutsTotal.WithLabelValues(outcome).Inc()
}

func observeVerification(class authdomain.TokenClass, outcome VerifyOutcome) {
	metrics.JWTValidationsTotal.WithLabelValues(string(class), outcome.String()).Inc()
}
