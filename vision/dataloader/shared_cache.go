package dataloader

// CreateSharedDataLoaders creates one DataLoader per dataset, all drawing from a
// single image cache. Unless config.MaxCacheSize is set the cache is sized to
// hold every image.
func CreateSharedDataLoaders(config Config, datasets ...Dataset) ([]*DataLoader, error) {
	cacheSize := config.MaxCacheSize
	if cacheSize == 0 {
		for _, ds := range datasets {
			cacheSize += ds.Len()
		}
	}
	if cacheSize == 0 {
		cacheSize = 1
	}

	shared := config.CacheManager
	if shared == nil {
		var err error
		if shared, err = NewCacheManager(cacheSize); err != nil {
			return nil, err
		}
	}

	loaders := make([]*DataLoader, len(datasets))
	for i, ds := range datasets {
		loaderConfig := config
		loaderConfig.CacheManager = shared
		loader, err := NewDataLoader(ds, loaderConfig)
		if err != nil {
			return nil, err
		}
		loaders[i] = loader
	}
	return loaders, nil
}
