package jsengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
)

// ErrNetworkUnavailable is raised when a context has no fetch proxy.
var ErrNetworkUnavailable = errors.New("network is not available in this sandbox")

const axiosShim = `(function (hostFetch) {
  'use strict';
  function merge(a, b) {
    var out = {}, k;
    a = a || {}; b = b || {};
    for (k in a) { out[k] = a[k]; }
    for (k in b) { out[k] = b[k]; }
    return out;
  }
  function strings(obj, encodeObjects) {
    var out = {};
    if (!obj) { return out; }
    Object.keys(obj).forEach(function (k) {
      var v = obj[k];
      if (v === undefined || v === null) { return; }
      out[k] = encodeObjects && typeof v === 'object' ? JSON.stringify(v) : String(v);
    });
    return out;
  }
  function hasHeader(headers, name) {
    return Object.keys(headers).some(function (k) { return k.toLowerCase() === name; });
  }
  function body(data, headers) {
    if (data === undefined || data === null) { return ''; }
    if (typeof data === 'string') { return data; }
    if (!hasHeader(headers, 'content-type')) { headers['Content-Type'] = 'application/json;charset=utf-8'; }
    return JSON.stringify(data);
  }
  function create(defaults) {
    function request(config) {
      config = merge(defaults, config);
      var headers = merge(defaults.headers, config.headers);
      var url = config.url || '';
      if (config.baseURL && !/^https?:\/\//i.test(url)) {
        url = config.baseURL.replace(/\/+$/, '') + '/' + url.replace(/^\/+/, '');
      }
      var payload = body(config.data, headers);
      return hostFetch({
        method: String(config.method || 'get').toUpperCase(),
        url: url,
        headers: strings(headers, false),
        params: strings(config.params, true),
        body: payload
      }).then(function (res) {
        var data = res.body;
        if (config.responseType !== 'text') {
          try { data = JSON.parse(res.body); } catch (e) { data = res.body; }
        }
        var response = {
          data: data,
          status: res.status,
          statusText: res.statusText || '',
          headers: res.headers || {},
          config: config,
          request: { url: res.url || url }
        };
        var validate = config.validateStatus || function (s) { return s >= 200 && s < 300; };
        if (!validate(res.status)) {
          var err = new Error('Request failed with status code ' + res.status);
          err.response = response;
          err.config = config;
          err.isAxiosError = true;
          throw err;
        }
        return response;
      });
    }
    function axios(urlOrConfig, config) {
      if (typeof urlOrConfig === 'string') { return request(merge(config, { url: urlOrConfig })); }
      return request(urlOrConfig);
    }
    axios.request = request;
    ['get', 'delete', 'head', 'options'].forEach(function (m) {
      axios[m] = function (url, config) { return request(merge(config, { url: url, method: m })); };
    });
    ['post', 'put', 'patch'].forEach(function (m) {
      axios[m] = function (url, data, config) { return request(merge(config, { url: url, method: m, data: data })); };
    });
    axios.create = function (extra) { return create(merge(defaults, extra)); };
    axios.defaults = defaults;
    axios.default = axios;
    return axios;
  }
  return create({});
})`

func buildAxios(c *jsContext) (goja.Value, error) {
	shim, err := c.vm.RunString(axiosShim)
	if err != nil {
		return nil, err
	}
	build, ok := goja.AssertFunction(shim)
	if !ok {
		return nil, fmt.Errorf("axios shim is not callable")
	}
	return build(goja.Undefined(), c.vm.ToValue(c.hostFetch))
}

// hostFetch forwards a request through the sandbox's fetch proxy and returns
// a promise for {status, statusText, headers, body, url}.
func (c *jsContext) hostFetch(call goja.FunctionCall) goja.Value {
	var req httpdomain.FetchRequest
	decodeErr := c.exportJSON(call.Argument(0), &req)
	if decodeErr == nil {
		decodeErr = req.Validate()
	}

	return c.settleLater(func(ctx context.Context) (interface{}, error) {
		if decodeErr != nil {
			return nil, decodeErr
		}
		if c.opts.Fetcher == nil {
			return nil, ErrNetworkUnavailable
		}
		resp, err := c.opts.Fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
}
