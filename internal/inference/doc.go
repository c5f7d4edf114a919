/*
Package inference runs the image classifier inside the sandbox.

A model artifact is a model.json manifest plus weight shards. The manifest
declares the format, the input shape, the normalization and the ordered
weight groups:

	{
	  "format": "linear",
	  "inputShape": [224, 224, 3],
	  "classes": 1000,
	  "weightsManifest": [
	    {"paths": ["group1-shard1of2.bin", "group1-shard2of2.bin"],
	     "weights": [{"name": "dense/kernel", "shape": [150528, 1000], "dtype": "float32"},
	                 {"name": "dense/bias", "shape": [1000], "dtype": "float32"}]}
	  ]
	}

Shards are concatenated in manifest order before being split into tensors,
so a tensor may straddle shard boundaries. Shards may be gzip-compressed.

Two formats are supported. "linear" is a dense softmax layer evaluated with
gonum. "script" loads a JavaScript file defining predict(input, width,
height) and runs it in a goja runtime with no module system, no timers and
an execution timeout; the decoded weights are exposed as the global
"weights" object.

The Executor loads the model once, on first use, and turns an encoded image
into the top-K (class, confidence) pairs.
*/
package inference
