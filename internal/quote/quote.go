package quote

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// EarthRadiusKm 地球平均半径。
const EarthRadiusKm = 6371.0

// Coord 经纬度（度）。
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// FeeType 配送费计费方式。
type FeeType string

const (
	FeeUnset FeeType = ""
	FeeFlat  FeeType = "flat"
	FeePerKm FeeType = "per_km"
)

// Pricing 商户配送计费配置。MaxKm=0 表示不限距离。
type Pricing struct {
	FreeKm   float64
	MaxKm    float64
	FeeType  FeeType
	FlatFee  int64 // 单位：分
	PerKmFee int64 // 单位：分/公里
}

// Reason 报价失败原因。
type Reason string

const (
	ReasonMissingCoords Reason = "missing_coords"
	ReasonTooFar        Reason = "too_far"
	ReasonNoConfig      Reason = "no_config"
	ReasonNoPricingRule Reason = "no_pricing_rule"
)

// Failure 报价失败，too_far 时带上实际距离供提示使用。
type Failure struct {
	Reason     Reason
	DistanceKm float64
	MaxKm      float64
}

func (f *Failure) Error() string {
	if f.Reason == ReasonTooFar {
		return fmt.Sprintf("quote: too far (%.1f km > %.1f km)", f.DistanceKm, f.MaxKm)
	}
	return "quote: " + string(f.Reason)
}

// Quote 报价成功结果。
type Quote struct {
	DistanceKm float64
	Fee        int64
	FreeKm     float64
	MaxKm      float64
}

// Distance 球面大圆距离（haversine），单位公里。
func Distance(a, b Coord) float64 {
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(b.Lat - a.Lat)
	dLng := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Compute 计算距离与配送费。任何失败都以 *Failure 返回，不 panic。
//
// 免费半径与最大半径相互独立：超出 MaxKm 一律 too_far。
// 计费方式未配置时视为软成功：费用 0，但仍返回距离。
func Compute(store, customer *Coord, cfg *Pricing) (Quote, error) {
	if store == nil || customer == nil {
		return Quote{}, &Failure{Reason: ReasonMissingCoords}
	}
	if cfg == nil {
		return Quote{}, &Failure{Reason: ReasonNoConfig}
	}

	d := Distance(*store, *customer)
	q := Quote{DistanceKm: round2(d), FreeKm: cfg.FreeKm, MaxKm: cfg.MaxKm}

	fee, err := FeeFor(d, *cfg)
	if err != nil {
		var f *Failure
		if errors.As(err, &f) && f.Reason == ReasonTooFar {
			f.DistanceKm = q.DistanceKm
		}
		return Quote{}, err
	}
	q.Fee = fee
	return q, nil
}

// FeeFor 已知距离时的计费（不做经纬度计算），便于校验计费单调性。
func FeeFor(distanceKm float64, cfg Pricing) (int64, error) {
	if cfg.MaxKm > 0 && distanceKm > cfg.MaxKm {
		return 0, &Failure{Reason: ReasonTooFar, DistanceKm: distanceKm, MaxKm: cfg.MaxKm}
	}
	if distanceKm <= cfg.FreeKm {
		return 0, nil
	}
	switch FeeType(strings.ToLower(string(cfg.FeeType))) {
	case FeeUnset:
		return 0, nil
	case FeeFlat:
		return cfg.FlatFee, nil
	case FeePerKm:
		return int64(math.Round((distanceKm - cfg.FreeKm) * float64(cfg.PerKmFee))), nil
	default:
		return 0, &Failure{Reason: ReasonNoPricingRule}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
