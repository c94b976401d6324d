package bundle

import (
	"path"
	"time"
)

// Paths inside the KFMon install package.
const (
	koboRootPath      = ".kobo/KoboRoot.tgz"
	addsDir           = ".adds"
	nmShardDir        = ".adds/nm"
	platoDir          = ".adds/plato"
	kfmonConfigDir    = ".adds/kfmon/config"
	iconsDir          = "icons"
	koreaderIcon      = "koreader.png"
	platoIcon         = "icons/plato.png"
	mergedKoboRoot    = "KoboRoot.tar.gz"
	mergedKoboRootDir = "KOBOROOT"
)

// NickelMenu config shard names, one per launchable program.
const (
	ShardKFMon    = "kfmon"
	ShardKOReader = "koreader"
	ShardPlato    = "plato"
)

// Inputs gathers what the recipes are built from.
type Inputs struct {
	// KFMonVersion is the version of the local KFMon package.
	KFMonVersion string
	// KFMonModTime dates the combined and KFMon-only bundles.
	KFMonModTime time.Time
	// PlatoVersion is the bundled Plato release.
	PlatoVersion string
	// PlatoArchive is the downloaded Plato zip.
	PlatoArchive string
	// PlatoModTime dates the Plato bundle.
	PlatoModTime time.Time
	// KOReaderVersion is the bundled KOReader release or nightly.
	KOReaderVersion string
	// KOReaderArchive is the downloaded KOReader zip.
	KOReaderArchive string
	// KOReaderModTime dates the KOReader bundle.
	KOReaderModTime time.Time
}

// Recipes returns the bundle variants, in build order:
// Plato, KOReader, Plato with KOReader, and the bare KFMon package used for
// post-update fixups.
func Recipes(in *Inputs) []*Recipe {
	var (
		koreaderConfig = path.Join(kfmonConfigDir, "koreader.ini")
		platoConfig    = path.Join(kfmonConfigDir, "plato.ini")
		logConfig      = path.Join(kfmonConfigDir, "kfmon-log.ini")
		// The KOReader archive ships a stray icon from the fmon days.
		koreaderLeftover = path.Join(addsDir, koreaderIcon)
	)

	return []*Recipe{
		{
			Name:     "OCP-Plato-" + in.PlatoVersion,
			Remove:   []string{koreaderConfig, koreaderIcon},
			NMShards: []string{ShardKFMon, ShardPlato},
			Payloads: []Payload{{Archive: in.PlatoArchive, Into: platoDir}},
			ModTime:  in.PlatoModTime,
		},
		{
			Name:       "OCP-KOReader-" + in.KOReaderVersion,
			Remove:     []string{platoConfig, platoIcon},
			RemoveDirs: []string{iconsDir},
			NMShards:   []string{ShardKFMon, ShardKOReader},
			Payloads:   []Payload{{Archive: in.KOReaderArchive, Into: addsDir}},
			Cleanup:    []string{koreaderLeftover},
			ModTime:    in.KOReaderModTime,
		},
		{
			Name:     "OCP-Plato-" + in.PlatoVersion + "_KOReader-" + in.KOReaderVersion,
			NMShards: []string{ShardKFMon, ShardKOReader, ShardPlato},
			Payloads: []Payload{
				{Archive: in.PlatoArchive, Into: platoDir},
				{Archive: in.KOReaderArchive, Into: addsDir},
			},
			Cleanup: []string{koreaderLeftover},
			ModTime: in.KFMonModTime,
		},
		{
			Name: "OCP-KFMon-" + in.KFMonVersion,
			// kfmon.png stays: the install script uses it as a sentinel for its safety checks.
			Remove:     []string{koreaderConfig, koreaderIcon, platoConfig, platoIcon, logConfig},
			RemoveDirs: []string{iconsDir},
			ModTime:    in.KFMonModTime,
		},
	}
}
