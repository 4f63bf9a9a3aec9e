package constants

import "time"

const (
	// 版本键的时间戳token格式，字典序与时间序一致
	VersionTokenLayout = "20060102_150405"

	// 上传文档默认大小上限
	DefaultMaxFileSizeBytes = 10 << 20

	// 两类技能集合各自的默认上限
	DefaultMaxSkills = 20

	// 上传文件去重MD5集合的Redis键
	RawFileMD5SetKey = "profiles:file_md5s"
	// 档案update串行化锁的Redis键前缀
	UpdateLockKeyPrefix = "profiles:update_lock:"
	// 最新版本键缓存的Redis键前缀
	LatestVersionKeyPrefix = "profiles:latest:"
	// 最新版本缓存的过期时间
	LatestVersionCacheTTL = 10 * time.Minute
)
