package migration

import (
	"fmt"

	"github.com/lightningnetwork/walletbackup/backup"
	"github.com/lightningnetwork/walletbackup/backupv1"
)

// ErrUnknownVersion is returned for a document newer than the latest version
// known to this package.
var ErrUnknownVersion = backup.ErrUnknownVersion

// loader decodes a document of one version and lifts it to the latest model
// by applying every migration that follows it.
type loader func(data []byte) (*backup.Backup, error)

// version pairs a document version with the loader for documents of that
// version.
type version struct {
	number uint32
	load   loader
}

// backupVersions stores every known version of the backup document in
// ascending order. A new schema generation is added by appending its version
// here and pointing the loader of the prior version through its migration.
var backupVersions = []version{
	{
		number: backupv1.Version,
		load:   loadV1,
	},
	{
		number: backup.Version,
		load:   backup.Decode,
	},
}

// getLatestVersion returns the last known document version.
func getLatestVersion(versions []version) uint32 {
	return versions[len(versions)-1].number
}

// getVersion returns the entry of the given document version.
func getVersion(versions []version, number uint32) (version, error) {
	for _, v := range versions {
		if v.number == number {
			return v, nil
		}
	}

	latest := getLatestVersion(versions)
	if number > latest {
		return version{}, fmt.Errorf("%w: %d is newer than the latest "+
			"known version %d", ErrUnknownVersion, number, latest)
	}

	return version{}, fmt.Errorf("%w: %d", ErrUnknownVersion, number)
}

// LatestVersion returns the version documents are written with by default.
func LatestVersion() uint32 {
	return getLatestVersion(backupVersions)
}

// DetectVersion reads only the version field of a document. An absent
// version means the first generation.
func DetectVersion(data []byte) (uint32, error) {
	number, err := backup.PeekVersion(data)
	if err != nil {
		return 0, err
	}

	if number == 0 {
		number = backupv1.Version
	}

	if _, err := getVersion(backupVersions, number); err != nil {
		return 0, err
	}

	return number, nil
}

func loadV1(data []byte) (*backup.Backup, error) {
	old, err := backupv1.Decode(data)
	if err != nil {
		return nil, err
	}

	// Upgrading keys its entries by fingerprint, which would hide an entry
	// stored under the wrong key.
	if err := old.Validate(); err != nil {
		return nil, err
	}

	return Upgrade(old)
}

// Load decodes a document of any known version, upgrades it to the latest
// version and validates it.
func Load(data []byte) (*backup.Backup, error) {
	number, err := DetectVersion(data)
	if err != nil {
		return nil, err
	}

	v, err := getVersion(backupVersions, number)
	if err != nil {
		return nil, err
	}

	b, err := v.load(data)
	if err != nil {
		return nil, err
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}

	if number != LatestVersion() {
		log.Infof("Loaded version %d backup, upgraded to version %d",
			number, LatestVersion())
	}

	return b, nil
}

// Encode writes b as a document of the requested version, downgrading it when
// an older version is asked for.
func Encode(b *backup.Backup, number uint32) ([]byte, error) {
	return encode(b, number, false)
}

// EncodeIndent is Encode with the document indented by two spaces.
func EncodeIndent(b *backup.Backup, number uint32) ([]byte, error) {
	return encode(b, number, true)
}

func encode(b *backup.Backup, number uint32, indent bool) ([]byte, error) {
	if _, err := getVersion(backupVersions, number); err != nil {
		return nil, err
	}

	if number == backup.Version {
		if indent {
			return backup.EncodeIndent(b)
		}

		return backup.Encode(b)
	}

	old, err := Downgrade(b)
	if err != nil {
		return nil, err
	}

	if indent {
		return backupv1.EncodeIndent(old)
	}

	return backupv1.Encode(old)
}
