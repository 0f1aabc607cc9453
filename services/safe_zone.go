// services/safe_zone.go
package services

import (
	"fmt"

	"wager-ledger/models"
)

// SafeZoneClass is the starting stage and length for one match size class.
type SafeZoneClass struct {
	Radius        float64
	ShrinkSeconds float64
	DamagePerTick float64
	Stages        int
}

// SafeZonePolicy sizes a timeline by expected player count. Every stage
// after the first multiplies the previous one by the factors.
type SafeZonePolicy struct {
	SmallMaxPlayers int
	Small           SafeZoneClass
	Large           SafeZoneClass
	RadiusFactor    float64
	DurationFactor  float64
	DamageFactor    float64
}

var DefaultSafeZonePolicy = SafeZonePolicy{
	SmallMaxPlayers: 20,
	Small:           SafeZoneClass{Radius: 500, ShrinkSeconds: 60, DamagePerTick: 1.0, Stages: 4},
	Large:           SafeZoneClass{Radius: 1000, ShrinkSeconds: 90, DamagePerTick: 2.0, Stages: 5},
	RadiusFactor:    0.6,
	DurationFactor:  0.8,
	DamageFactor:    1.5,
}

func (p SafeZonePolicy) Validate() error {
	for name, c := range map[string]SafeZoneClass{"small": p.Small, "large": p.Large} {
		if c.Radius <= 0 || c.ShrinkSeconds <= 0 || c.DamagePerTick <= 0 {
			return fmt.Errorf("safe zone %s class: radius, duration and damage must be positive", name)
		}
		if c.Stages < 1 {
			return fmt.Errorf("safe zone %s class: at least one stage is required", name)
		}
	}
	if p.RadiusFactor <= 0 || p.RadiusFactor > 1 {
		return fmt.Errorf("safe zone radius factor %v outside (0,1]", p.RadiusFactor)
	}
	if p.DurationFactor <= 0 || p.DurationFactor > 1 {
		return fmt.Errorf("safe zone duration factor %v outside (0,1]", p.DurationFactor)
	}
	if p.DamageFactor < 1 {
		return fmt.Errorf("safe zone damage factor %v below 1", p.DamageFactor)
	}
	return nil
}

// Timeline is deterministic: the same player count always yields the same
// stages.
func (p SafeZonePolicy) Timeline(expectedPlayers int) []models.SafeZoneStage {
	class := p.Small
	if expectedPlayers > p.SmallMaxPlayers {
		class = p.Large
	}

	stages := make([]models.SafeZoneStage, class.Stages)
	radius, duration, damage := class.Radius, class.ShrinkSeconds, class.DamagePerTick
	for i := range stages {
		stages[i] = models.SafeZoneStage{
			Radius:        radius,
			ShrinkSeconds: duration,
			DamagePerTick: damage,
		}
		radius *= p.RadiusFactor
		duration *= p.DurationFactor
		damage *= p.DamageFactor
	}
	return stages
}
