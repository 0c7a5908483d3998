package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// CustodyOwner is the manifest placeholder for the custodial signer address.
const CustodyOwner = "custody"

// Manifest declares the assets, feeds, accounts and channels applied at
// startup. Entries that already exist are left alone.
type Manifest struct {
	RollingPeriodHours uint32            `yaml:"rolling_period_hours"`
	Assets             []ManifestAsset   `yaml:"assets"`
	Feeds              []ManifestFeed    `yaml:"feeds"`
	Accounts           []ManifestAccount `yaml:"accounts"`
	MintChannels       []MintChannelSpec `yaml:"mint_channels"`
	BurnChannels       []BurnChannelSpec `yaml:"burn_channels"`
}

// ManifestAsset registers a bank asset. An empty authority hands issuance
// to the custodial signer.
type ManifestAsset struct {
	ID        string `yaml:"id"`
	Decimals  uint16 `yaml:"decimals"`
	Authority string `yaml:"authority"`
}

// ManifestFeed registers a price feed with an optional opening answer.
type ManifestFeed struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Decimals    uint8  `yaml:"decimals"`
	Answer      *int64 `yaml:"answer"`
}

// ManifestAccount opens a bank account. Owner is a bech32 address or
// CustodyOwner.
type ManifestAccount struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
	Asset string `yaml:"asset"`
}

// ManifestLeg is one basket entry.
type ManifestLeg struct {
	Asset     string `yaml:"asset"`
	Decimals  uint16 `yaml:"decimals"`
	WeightBps uint16 `yaml:"weight_bps"`
	PriceFeed string `yaml:"price_feed"`
}

// ChannelLimits are the caps shared by both channel kinds.
type ChannelLimits struct {
	LifetimeCap      uint64 `yaml:"lifetime_cap"`
	PeriodCap        uint64 `yaml:"period_cap"`
	MinRequestAmount uint64 `yaml:"min_request_amount"`
}

// MintChannelSpec declares a mint channel. The basket may be given as a list
// of legs or as the parallel arrays used by older manifests, not both.
type MintChannelSpec struct {
	Path          string        `yaml:"path"`
	Capacity      uint16        `yaml:"capacity"`
	Active        bool          `yaml:"active"`
	FeeBps        uint16        `yaml:"fee_bps"`
	Limits        ChannelLimits `yaml:",inline"`
	Basket        []ManifestLeg `yaml:"basket"`
	Assets        []string      `yaml:"assets"`
	AssetDecimals []uint16      `yaml:"decimals"`
	WeightsBps    []uint16      `yaml:"weights_bps"`
	PriceFeeds    []string      `yaml:"price_feeds"`
}

// UsesLegacyBasket reports whether the parallel-array form is populated.
func (m MintChannelSpec) UsesLegacyBasket() bool {
	return len(m.Assets) > 0 || len(m.AssetDecimals) > 0 || len(m.WeightsBps) > 0 || len(m.PriceFeeds) > 0
}

// BurnChannelSpec declares a burn channel.
type BurnChannelSpec struct {
	Path           string        `yaml:"path"`
	Active         bool          `yaml:"active"`
	OutputAsset    string        `yaml:"output_asset"`
	OutputDecimals uint16        `yaml:"output_decimals"`
	OutputFeed     string        `yaml:"output_feed"`
	FeeBps         uint16        `yaml:"fee_bps"`
	Limits         ChannelLimits `yaml:",inline"`
}

// LoadManifest reads a YAML manifest. An empty path yields an empty manifest.
func LoadManifest(path string) (*Manifest, error) {
	manifest := &Manifest{}
	if strings.TrimSpace(path) == "" {
		return manifest, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := manifest.validate(); err != nil {
		return nil, err
	}
	return manifest, nil
}

func (m *Manifest) validate() error {
	seen := make(map[string]struct{})
	for _, channel := range m.MintChannels {
		path := strings.TrimSpace(channel.Path)
		if path == "" {
			return fmt.Errorf("manifest: mint channel path required")
		}
		if _, dup := seen["mint/"+path]; dup {
			return fmt.Errorf("manifest: mint channel %q declared twice", path)
		}
		seen["mint/"+path] = struct{}{}
		if channel.UsesLegacyBasket() && len(channel.Basket) > 0 {
			return fmt.Errorf("manifest: mint channel %q mixes basket and parallel arrays", path)
		}
	}
	for _, channel := range m.BurnChannels {
		path := strings.TrimSpace(channel.Path)
		if path == "" {
			return fmt.Errorf("manifest: burn channel path required")
		}
		if _, dup := seen["burn/"+path]; dup {
			return fmt.Errorf("manifest: burn channel %q declared twice", path)
		}
		seen["burn/"+path] = struct{}{}
	}
	for _, account := range m.Accounts {
		if strings.TrimSpace(account.Owner) == "" {
			return fmt.Errorf("manifest: account %q needs an owner", account.ID)
		}
	}
	return nil
}
