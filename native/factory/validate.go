package factory

import (
	"fmt"
	"strings"
)

func validatePath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", fmt.Errorf("%w: channel path required", ErrInvalidInput)
	}
	return trimmed, nil
}

func validateFee(fee uint16) error {
	if fee > MaxFeeBps {
		return fmt.Errorf("%w: fee %d bps exceeds %d", ErrInvalidInput, fee, MaxFeeBps)
	}
	return nil
}

func validateDecimals(decimals uint16) error {
	if decimals > MaxDecimals {
		return fmt.Errorf("%w: decimals %d exceed %d", ErrInvalidInput, decimals, MaxDecimals)
	}
	return nil
}

// validateBasket enforces the basket invariants for a channel of the given capacity.
func validateBasket(basket []BasketLeg, capacity uint16) error {
	if len(basket) > int(capacity) {
		return fmt.Errorf("%w: basket of %d legs exceeds capacity %d", ErrInvalidInput, len(basket), capacity)
	}
	if len(basket) == 0 {
		return nil
	}
	var total uint64
	seen := make(map[string]struct{}, len(basket))
	for i, leg := range basket {
		asset := strings.TrimSpace(leg.Asset)
		if asset == "" {
			return fmt.Errorf("%w: leg %d missing asset", ErrInvalidInput, i)
		}
		if _, dup := seen[asset]; dup {
			return fmt.Errorf("%w: asset %s appears twice in basket", ErrInvalidInput, asset)
		}
		seen[asset] = struct{}{}
		if err := validateDecimals(leg.Decimals); err != nil {
			return fmt.Errorf("leg %d: %w", i, err)
		}
		total += uint64(leg.WeightBps)
	}
	if total != BasisPoints {
		return fmt.Errorf("%w: basket weights sum to %d, want %d", ErrInvalidInput, total, BasisPoints)
	}
	return nil
}

func validateMintParams(params MintChannelParams, capacity uint16) error {
	if err := validateFee(params.FeeBps); err != nil {
		return err
	}
	if params.Active && len(params.Basket) == 0 {
		return fmt.Errorf("%w: active mint channel needs a basket", ErrInvalidInput)
	}
	return validateBasket(params.Basket, capacity)
}

func validateBurnParams(params BurnChannelParams) error {
	if err := validateFee(params.FeeBps); err != nil {
		return err
	}
	if err := validateDecimals(params.OutputDecimals); err != nil {
		return err
	}
	if params.Active && strings.TrimSpace(params.OutputAsset) == "" {
		return fmt.Errorf("%w: active burn channel needs an output asset", ErrInvalidInput)
	}
	return nil
}

// matchRoutes pairs every basket leg with exactly one route for its asset.
func matchRoutes(basket []BasketLeg, routes []LegRoute) ([]LegRoute, error) {
	if len(routes) != len(basket) {
		return nil, fmt.Errorf("%w: %d routes for %d basket legs", ErrInvalidInput, len(routes), len(basket))
	}
	byAsset := make(map[string]LegRoute, len(routes))
	for _, route := range routes {
		asset := strings.TrimSpace(route.Asset)
		if _, dup := byAsset[asset]; dup {
			return nil, fmt.Errorf("%w: asset %s routed twice", ErrInvalidInput, asset)
		}
		byAsset[asset] = route
	}
	ordered := make([]LegRoute, len(basket))
	for i, leg := range basket {
		route, ok := byAsset[leg.Asset]
		if !ok {
			return nil, fmt.Errorf("%w: no route for basket asset %s", ErrInvalidInput, leg.Asset)
		}
		ordered[i] = route
	}
	return ordered, nil
}
