package consts

const (
	DefaultExportsDir = "exports"
	DefaultUploadsDir = "uploads"
	DefaultBlobsDir   = "blobs"
	DefaultPrefsFile  = "prefs.json"

	ExportPrefix    = "EuphoCam"
	DefaultImageExt = ".png"

	DefaultFilePerm = 0666
	DefaultDirPerm  = 0777

	// exports are refused below this much free space
	MinFreeBytes = 64 << 20
)
